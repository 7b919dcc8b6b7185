package queue

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"time"
)

const tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// tokenSpace is 36^5, the number of distinct five character base36 codes.
const tokenSpace = 36 * 36 * 36 * 36 * 36

// DailyToken derives the short pickup code for a ticket. The code is
// stable for one bakery-day and rotates at the date boundary of the
// supplied local time.
func DailyToken(bakeryID, ticket int, localNow time.Time) string {
	seed := fmt.Sprintf("%d-%d-%s", bakeryID, ticket, localNow.Format("2006-01-02"))
	sum := sha1.Sum([]byte(seed))
	v := binary.BigEndian.Uint32(sum[:4]) % tokenSpace

	buf := [5]byte{}
	for i := 4; i >= 0; i-- {
		buf[i] = tokenAlphabet[v%36]
		v /= 36
	}
	out := buf[:]
	for len(out) > 1 && out[0] == '0' {
		out = out[1:]
	}
	return string(out)
}

// ResolveToken maps a daily code back to its ticket number, checking
// active tickets, then the wait list, then the served set.
func (s *BakeryState) ResolveToken(token string, localNow time.Time) (int, error) {
	for _, n := range s.ActiveOrder() {
		if DailyToken(s.Config.BakeryID, n, localNow) == token {
			return n, nil
		}
	}
	for n := range s.WaitList {
		if DailyToken(s.Config.BakeryID, n, localNow) == token {
			return n, nil
		}
	}
	for n := range s.Served {
		if DailyToken(s.Config.BakeryID, n, localNow) == token {
			return n, nil
		}
	}
	return 0, NotFoundError(ReasonTicketMissing)
}
