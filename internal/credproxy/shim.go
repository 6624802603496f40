package credproxy

// shimHeader starts each shim script. The scripts use socat to forward the
// caller's op and stdin to the proxy socket and relay its response back to
// stdout; socat is already a hard dependency of the port forwarder (§4.4) so
// no new package needs installing in the image.
const shimHeader = "#!/bin/sh\nset -e\n"

// DockerShimScript returns the POSIX shell script installed at
// /usr/local/bin/docker-credential-devc inside the container. Docker invokes
// credential helpers as "docker-credential-<name> <op>" with the request
// body on stdin, so $1 is already the wire protocol's op.
func DockerShimScript() string {
	return shimHeader +
		"op=\"$1\"\n" +
		"{ printf 'docker\\t%s\\n' \"$op\"; cat; } | socat - UNIX-CONNECT:" + SocketContainerPath + "\n"
}

// GitShimScript returns the POSIX shell script installed at
// /usr/local/bin/git-credential-devc inside the container. Git invokes
// credential helpers as "git-credential-devc <op>" with key=value pairs on
// stdin, matching Docker's argv shape closely enough to share one script
// template with a different Kind prefix.
func GitShimScript() string {
	return shimHeader +
		"op=\"$1\"\n" +
		"{ printf 'git\\t%s\\n' \"$op\"; cat; } | socat - UNIX-CONNECT:" + SocketContainerPath + "\n"
}
