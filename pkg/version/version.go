package version

// ServerVersion is advertised to peers in the serf "ver" tag.
var ServerVersion = "0.1.0"
