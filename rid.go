package docindex

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// RID identifies a stored record: the cluster the record's class lives in,
// and the record's position within the cluster.
type RID struct {
	Cluster  int32
	Position int64
}

// InvalidRID marks records that have not been persisted yet.
var InvalidRID = RID{Cluster: -1, Position: -1}

const ridSize = 12

func (r RID) IsValid() bool {
	return r.Cluster >= 0 && r.Position >= 0
}

// Compare orders RIDs by cluster, then by position.
func (r RID) Compare(o RID) int {
	if c := cmp.Compare(r.Cluster, o.Cluster); c != 0 {
		return c
	}
	return cmp.Compare(r.Position, o.Position)
}

func (r RID) String() string {
	return fmt.Sprintf("#%d:%d", r.Cluster, r.Position)
}

func ParseRID(s string) (RID, error) {
	cs, ps, ok := strings.Cut(strings.TrimPrefix(s, "#"), ":")
	if !ok {
		return InvalidRID, fmt.Errorf("invalid RID %q", s)
	}
	c, err := strconv.ParseInt(cs, 10, 32)
	if err != nil {
		return InvalidRID, fmt.Errorf("invalid RID %q: %w", s, err)
	}
	p, err := strconv.ParseInt(ps, 10, 64)
	if err != nil {
		return InvalidRID, fmt.Errorf("invalid RID %q: %w", s, err)
	}
	return RID{int32(c), p}, nil
}

// appendRID encodes the RID in 12 bytes that sort in RID order.
func appendRID(buf []byte, r RID) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Cluster)^(1<<31))
	return binary.BigEndian.AppendUint64(buf, uint64(r.Position)^(1<<63))
}

func decodeRID(data []byte) (RID, error) {
	if len(data) != ridSize {
		return InvalidRID, dataErrf(data, 0, nil, "invalid RID length %d", len(data))
	}
	return RID{
		Cluster:  int32(binary.BigEndian.Uint32(data) ^ (1 << 31)),
		Position: int64(binary.BigEndian.Uint64(data[4:]) ^ (1 << 63)),
	}, nil
}
