package zxid

import "fmt"

/*
The ZXID is the server-assigned transaction id. It has two parts: the epoch and a counter, packed into
a 64-bit number with the epoch in the high order 32-bits and the counter in the low order 32-bits.
The epoch changes each time a new leader comes into power, and the leader increments the counter for
every proposal, so zxids are totally ordered across the ensemble.
The client tracks the last zxid it has seen. It is sent in the connect request so that a server that is
behind the client refuses the session, and in SET_WATCHES so that the server can fire any watch whose
node changed while the client was disconnected.
See https://zookeeper.apache.org/doc/r3.4.13/zookeeperInternals.html#sc_guaranteesPropertiesDefinitions
*/
type ZXID int64

func New(epoch int32, counter int32) ZXID {
	// Line the epoch and counter up with the high and low 32 bits of the zxid.
	highBits := int64(epoch) << 32
	lowBits := int64(uint32(counter))
	return ZXID(highBits | lowBits)
}

func (z ZXID) Epoch() int32 {
	return int32(z >> 32)
}

func (z ZXID) Counter() int32 {
	// Mask off the low 32 bits.
	var maskLow32 ZXID = 0xFFFFFFFF
	return int32(z & maskLow32)
}

// Advance returns the later of z and seen. Replies with a zero zxid (reads
// that did not touch the log) never move the last seen zxid backwards.
func (z ZXID) Advance(seen ZXID) ZXID {
	if seen > z {
		return seen
	}
	return z
}

func (z ZXID) String() string {
	return fmt.Sprintf("0x%x", int64(z))
}
