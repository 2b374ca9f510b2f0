/*
Package compose wraps the docker-compose and docker inspect CLIs.

The driver does not model the container runtime; it issues one CLI
invocation per question and treats the answer as the truth, which keeps it
correct when operators run compose out-of-band. Three operations:

  - ListContainerIDs: `docker-compose -f <manifest> ps -q <service>`
  - ContainerIP:      `docker inspect <id>`
  - Up:               `docker-compose -f <manifest> up --build -d --remove-orphans`

Compose invocations run with the challenge directory as working directory
so relative paths inside the manifest resolve the way compose expects;
docker inspect runs in the process's own working directory.
Captured stderr goes to log records, never into return values.
*/
package compose
