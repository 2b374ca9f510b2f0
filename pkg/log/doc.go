/*
Package log provides structured logging for the flyctf proxy using zerolog.

The package exposes a global Logger configured once at startup via Init and
child-logger constructors that attach well-known fields:

	logger := log.WithComponent("registry")
	logger.Warn().Str("dir", dir).Msg("Skipping challenge directory")

Console output is the default; JSON output is available for log shippers.
The level defaults to info and is normally taken from the LOG_LEVEL
environment variable or the --log-level flag.
*/
package log
