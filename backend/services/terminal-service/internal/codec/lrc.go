package codec

// LRC is the longitudinal redundancy check: a running XOR of every byte in b.
func LRC(b []byte) byte {
	var lrc byte
	for _, c := range b {
		lrc ^= c
	}
	return lrc
}
