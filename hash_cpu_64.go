//go:build amd64 || arm64 || ppc64 || ppc64le || mips64 || mips64le || riscv64 || s390x || wasm || loong64

package scalemap

// hashPrime is the 64-bit Golden Ratio mixing constant.
const hashPrime = 0x9E3779B185EBCA87

// mixShift folds the high half of a multiplied integer key back down so
// that the low bits used for slot selection see all of it.
const mixShift = 32
