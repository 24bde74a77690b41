package mem_cache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/golang/snappy"
)

// Snapshot layout, snappy framed:
//
//	magic "LCD1"
//	repeated: keyLen u16 | key | storedTime i64 | expire i64 | vLen u32 | v
var dumpMagic = [4]byte{'L', 'C', 'D', '1'}

var errBadMagic = errors.New("not a cache snapshot")

// Dump writes all unexpired keys to w. It returns the number of keys written.
func (c *MemCache) Dump(w io.Writer) (n int, err error) {
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(dumpMagic[:]); err != nil {
		return 0, err
	}

	now := time.Now().UnixNano()
	var hdr [8]byte
	c.lru.Range(func(key string, e *elem) bool {
		if e.expire <= now || len(key) > math.MaxUint16 {
			return true
		}
		binary.BigEndian.PutUint16(hdr[:2], uint16(len(key)))
		if _, err = sw.Write(hdr[:2]); err != nil {
			return false
		}
		if _, err = io.WriteString(sw, key); err != nil {
			return false
		}
		binary.BigEndian.PutUint64(hdr[:], uint64(e.storedTime))
		if _, err = sw.Write(hdr[:]); err != nil {
			return false
		}
		binary.BigEndian.PutUint64(hdr[:], uint64(e.expire))
		if _, err = sw.Write(hdr[:]); err != nil {
			return false
		}
		binary.BigEndian.PutUint32(hdr[:4], uint32(len(e.v)))
		if _, err = sw.Write(hdr[:4]); err != nil {
			return false
		}
		if _, err = sw.Write(e.v); err != nil {
			return false
		}
		n++
		return true
	})
	if err != nil {
		return n, err
	}
	return n, sw.Close()
}

// Load reads a snapshot written by Dump. Keys that expired since the
// snapshot was taken are skipped. It returns the number of keys loaded.
func (c *MemCache) Load(r io.Reader) (n int, err error) {
	br := bufio.NewReader(snappy.NewReader(r))

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return 0, fmt.Errorf("read snapshot header: %w", err)
	}
	if magic != dumpMagic {
		return 0, errBadMagic
	}

	now := time.Now().UnixNano()
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(br, hdr[:2]); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
		key := make([]byte, binary.BigEndian.Uint16(hdr[:2]))
		if _, err := io.ReadFull(br, key); err != nil {
			return n, err
		}
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return n, err
		}
		storedTime := int64(binary.BigEndian.Uint64(hdr[:]))
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return n, err
		}
		expire := int64(binary.BigEndian.Uint64(hdr[:]))
		if _, err := io.ReadFull(br, hdr[:4]); err != nil {
			return n, err
		}
		v := make([]byte, binary.BigEndian.Uint32(hdr[:4]))
		if _, err := io.ReadFull(br, v); err != nil {
			return n, err
		}

		if expire <= now {
			continue
		}
		c.store(string(key), v, storedTime, expire)
		n++
	}
}
