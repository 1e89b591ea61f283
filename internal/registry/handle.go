package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/dbireg/internal/errs"
)

// Tier is the depth of an object in the ownership tree. Its value is also the
// number of ids a handle of that tier carries.
type Tier int

const (
	TierManager    Tier = 1
	TierConnection Tier = 2
	TierResultSet  Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierManager:
		return "manager"
	case TierConnection:
		return "connection"
	case TierResultSet:
		return "resultSet"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Handle is the caller-facing reference to a registry object: the tier, the
// ids leading to the object (manager id first) and the epoch of the registry
// that issued it. A zero epoch marks a handle rebuilt from bare integers; it is
// accepted by any registry but still goes through identity and slot checks.
type Handle struct {
	tier  Tier
	epoch uint64
	ids   [3]int
}

func newHandle(tier Tier, epoch uint64, ids ...int) Handle {
	h := Handle{tier: tier, epoch: epoch, ids: [3]int{-1, -1, -1}}
	copy(h.ids[:], ids)
	return h
}

// FromInts rebuilds a handle from its integer form. The tier is the number of
// integers, so anything but 1, 2 or 3 of them is rejected.
func FromInts(ids ...int) (Handle, error) {
	if len(ids) < int(TierManager) || len(ids) > int(TierResultSet) {
		return Handle{}, errs.Newf(errs.ErrKindInvalidHandle, "invalid handle: %d ids", len(ids))
	}
	return newHandle(Tier(len(ids)), 0, ids...), nil
}

// Tier returns the handle's tier; zero for the zero Handle.
func (h Handle) Tier() Tier { return h.tier }

// Epoch returns the issuing registry's epoch, zero for an unbound handle.
func (h Handle) Epoch() uint64 { return h.epoch }

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.tier == 0 }

// ManagerID is the leading id, the process identity of the issuing registry.
func (h Handle) ManagerID() int { return h.ids[0] }

// ConnectionID returns the connection id, -1 for a manager handle.
func (h Handle) ConnectionID() int { return h.ids[1] }

// ResultSetID returns the result set id, -1 above the result set tier.
func (h Handle) ResultSetID() int { return h.ids[2] }

// Ints returns the integer form: one id per tier level.
func (h Handle) Ints() []int {
	out := make([]int, h.tier)
	copy(out, h.ids[:h.tier])
	return out
}

// Unbind drops the epoch, as happens when a handle crosses a host boundary
// as bare integers.
func (h Handle) Unbind() Handle {
	h.epoch = 0
	return h
}

// String renders the ids dot-separated, followed by "@epoch" when bound,
// e.g. "4242.3.7@1".
func (h Handle) String() string {
	if h.IsZero() {
		return "<nil>"
	}
	parts := make([]string, h.tier)
	for i := range parts {
		parts[i] = strconv.Itoa(h.ids[i])
	}
	s := strings.Join(parts, ".")
	if h.epoch != 0 {
		s += "@" + strconv.FormatUint(h.epoch, 10)
	}
	return s
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	if h.IsZero() {
		return nil, errs.New(errs.ErrKindInvalidHandle, "cannot encode a zero handle")
	}
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(b []byte) error {
	s := string(b)
	var epoch uint64
	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		e, err := strconv.ParseUint(s[at+1:], 10, 64)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidHandle, "invalid handle epoch "+strconv.Quote(s), err)
		}
		epoch, s = e, s[:at]
	}
	parts := strings.Split(s, ".")
	ids := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidHandle, "invalid handle "+strconv.Quote(string(b)), err)
		}
		ids[i] = n
	}
	parsed, err := FromInts(ids...)
	if err != nil {
		return err
	}
	parsed.epoch = epoch
	*h = parsed
	return nil
}

// ParseHandle decodes the text form produced by String.
func ParseHandle(s string) (Handle, error) {
	var h Handle
	err := h.UnmarshalText([]byte(s))
	return h, err
}
