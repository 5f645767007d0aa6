package ringproto

import "testing"

// These expected values are the RELAY_* request numbers from liblttd.c,
// computed independently of ior/iow to catch a mistake in the bit layout.
func TestRequestNumbersMatchKernelMacros(t *testing.T) {
	const (
		dirRead  = 2
		dirWrite = 1
		typ      = 0xF5
		size     = 4
	)
	want := func(dir, nr uint32) uint32 {
		return dir<<30 | typ<<8 | nr<<0 | size<<16
	}

	cases := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"RELAY_GET_SB", reqGetSubbuffer, want(dirRead, 0x00)},
		{"RELAY_PUT_SB", reqPutSubbuffer, want(dirWrite, 0x01)},
		{"RELAY_GET_N_SB", reqGetNSubbuffers, want(dirRead, 0x02)},
		{"RELAY_GET_SB_SIZE", reqGetSubbufSize, want(dirRead, 0x03)},
		{"RELAY_GET_MAX_SB_SIZE", reqGetMaxSubbufLen, want(dirRead, 0x04)},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = 0x%08x, want 0x%08x", c.name, c.got, c.want)
		}
	}
}

func TestRequestNumbersAreDistinct(t *testing.T) {
	seen := map[uint32]string{}
	reqs := map[string]uint32{
		"GET_SB":        reqGetSubbuffer,
		"PUT_SB":        reqPutSubbuffer,
		"GET_N_SB":      reqGetNSubbuffers,
		"GET_SB_SIZE":   reqGetSubbufSize,
		"GET_MAX_SB_SZ": reqGetMaxSubbufLen,
	}
	for name, req := range reqs {
		if other, ok := seen[req]; ok {
			t.Fatalf("%s and %s collide on request number 0x%08x", name, other, req)
		}
		seen[req] = name
	}
}
