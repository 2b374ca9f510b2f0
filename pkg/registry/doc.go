/*
Package registry discovers challenge bundles on disk and maps public ports
to challenge descriptors.

Discovery runs once at startup. Each immediate child of the challenges
root that carries both a challenge metadata file (challenge.yaml or
challenge.yml) and a compose manifest (docker-compose.yml or
docker-compose.yaml) becomes a candidate. Candidates are validated
independently: a malformed directory is skipped with a warning and never
affects its siblings.

The main service is chosen by an ordered policy:

 1. the unique service whose expose list contains the internal port
 2. the first service declaring any expose list
 3. the service_name hint from the metadata
 4. the first service in manifest order

Steps 2-4 are heuristics and log a warning when they fire. Duplicate
public ports keep the first-seen directory and reject the newcomer with an
error naming both.
*/
package registry
