//go:build debug

package participant

// showLocalBody keeps the local player's own body visible in debug builds.
const showLocalBody = true
