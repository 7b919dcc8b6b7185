package redis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tanoorlab/tanoor/internal/queue"
)

// The cache mirrors the day state across small typed keys so operators can
// inspect a live bakery with redis-cli. Encodings are line oriented:
// reservations as comma separated counts, breads as "readyAt:owner:index",
// prep as "ticket:made".

func encodeReservation(res queue.Reservation) string {
	parts := make([]string, len(res))
	for i, c := range res {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

func decodeReservation(s string) (queue.Reservation, error) {
	if s == "" {
		return nil, fmt.Errorf("empty reservation value")
	}
	parts := strings.Split(s, ",")
	res := make(queue.Reservation, len(parts))
	for i, p := range parts {
		c, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad reservation value %q: %w", s, err)
		}
		res[i] = c
	}
	return res, nil
}

func encodeBread(b queue.Bread) string {
	return fmt.Sprintf("%d:%d:%d", b.ReadyAt, b.Owner, b.Index)
}

func decodeBread(s string) (queue.Bread, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return queue.Bread{}, fmt.Errorf("bad bread value %q", s)
	}
	readyAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return queue.Bread{}, fmt.Errorf("bad bread value %q: %w", s, err)
	}
	owner, err := strconv.Atoi(parts[1])
	if err != nil {
		return queue.Bread{}, fmt.Errorf("bad bread value %q: %w", s, err)
	}
	index, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return queue.Bread{}, fmt.Errorf("bad bread value %q: %w", s, err)
	}
	return queue.Bread{Index: index, ReadyAt: readyAt, Owner: owner}, nil
}

func encodePrep(p queue.PrepState) string {
	return fmt.Sprintf("%d:%d", p.CurrentTicket, p.BreadsMade)
}

func decodePrep(s string) (queue.PrepState, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return queue.PrepState{}, fmt.Errorf("bad prep value %q", s)
	}
	cur, err := strconv.Atoi(parts[0])
	if err != nil {
		return queue.PrepState{}, fmt.Errorf("bad prep value %q: %w", s, err)
	}
	made, err := strconv.Atoi(parts[1])
	if err != nil {
		return queue.PrepState{}, fmt.Errorf("bad prep value %q: %w", s, err)
	}
	return queue.PrepState{CurrentTicket: cur, BreadsMade: made}, nil
}

func encodeDiffs(diffs []int64) string {
	parts := make([]string, len(diffs))
	for i, d := range diffs {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return strings.Join(parts, ",")
}

func decodeDiffs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		d, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad diff value %q: %w", s, err)
		}
		out[i] = d
	}
	return out, nil
}
