package boost

import (
	"strconv"
	"strings"
)

// HuntPolicy selects how the peer hunts a circuit within a trunk-group
// (spec §6 "ANI suffix syntax").
type HuntPolicy int32

const (
	HuntSeqAsc HuntPolicy = iota
	HuntSeqDesc
	HuntRRAsc
	HuntRRDesc
)

// ParseANI splits an outbound ANI of the form `digits[@<policy><tg>]`
// into the bare digits, the hunt policy, and the 0-based trunk-group
// index. A bare ANI with no suffix defaults to sequential-ascending on
// trunk-group 0.
func ParseANI(ani string) (digits string, policy HuntPolicy, trunkGroup int32) {
	at := strings.IndexByte(ani, '@')
	if at < 0 {
		return ani, HuntSeqAsc, 0
	}
	digits = ani[:at]
	suffix := ani[at+1:]
	if suffix == "" {
		return digits, HuntSeqAsc, 0
	}

	switch suffix[0] {
	case 'g':
		policy = HuntSeqAsc
	case 'G':
		policy = HuntSeqDesc
	case 'r':
		policy = HuntRRAsc
	case 'R':
		policy = HuntRRDesc
	default:
		// unrecognized policy letter: treat the whole suffix as the
		// trunk-group digits with the default policy.
		if n, err := strconv.Atoi(suffix); err == nil && n >= 1 {
			return digits, HuntSeqAsc, int32(n - 1)
		}
		return digits, HuntSeqAsc, 0
	}

	tgStr := suffix[1:]
	n, err := strconv.Atoi(tgStr)
	if err != nil || n < 1 {
		return digits, policy, 0
	}
	return digits, policy, int32(n - 1)
}
