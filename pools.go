package docdb

import "sync"

var indexRowsPool = &sync.Pool{
	New: func() any {
		return make(indexRows, 0, 256)
	},
}

var keyBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 32768) // generous headroom over any realistic key size
	},
}

func releaseKeyBytes(b []byte) {
	keyBytesPool.Put(b[:0]) //nolint:staticcheck // intentional: pool reuse, not a leak
}

var valueBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 65536)
	},
}

var emptyIndexValue = []byte{}
