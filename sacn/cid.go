package sacn

import (
	"net"

	uuid "github.com/satori/go.uuid"
)

// CID is the 16 byte component identifier that names an sACN source.
type CID [16]byte

var cidTag = [10]byte{'l', 'x', 'n', 'e', 't', '-', 's', 'a', 'c', 'n'}

// NewCID returns a random version 4 CID.
func NewCID() CID {
	return CID(uuid.NewV4())
}

// CIDFromMAC derives a stable CID from a hardware address: the six MAC
// bytes followed by a fixed tag.
func CIDFromMAC(mac net.HardwareAddr) CID {
	var cid CID
	copy(cid[:6], mac)
	copy(cid[6:], cidTag[:])
	return cid
}

func (c CID) IsZero() bool {
	return c == CID{}
}

func (c CID) String() string {
	return uuid.UUID(c).String()
}
