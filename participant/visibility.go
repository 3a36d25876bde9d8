//go:build !debug

package participant

const showLocalBody = false
