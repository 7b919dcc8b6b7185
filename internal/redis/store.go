package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tanoorlab/tanoor/internal/queue"
)

const opRetries = 3

// Store keeps each bakery's day state resident in Redis under a
// "bakery:{id}:*" key family. Every key expires at local midnight so a new
// numbering day starts empty. The journal backs the cache: configuration
// always comes from it, and a cache miss or corrupt key family is rebuilt
// from the latest snapshot.
type Store struct {
	logger  apt.Logger
	client  *goredis.Client
	journal queue.Journal
	loc     *time.Location
	url     string

	mu    sync.Mutex
	locks map[int]*sync.Mutex

	now func() time.Time
}

func NewStore(url string, journal queue.Journal, loc *time.Location, logger apt.Logger) *Store {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		logger:  logger,
		journal: journal,
		loc:     loc,
		url:     url,
		locks:   make(map[int]*sync.Mutex),
		now:     time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Store) SetClock(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	s.now = fn
}

func (s *Store) Start(ctx context.Context) error {
	opts, err := goredis.ParseURL(s.url)
	if err != nil {
		return fmt.Errorf("cannot parse redis url: %w", err)
	}
	s.client = goredis.NewClient(opts)
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cannot connect to redis: %w", err)
	}
	s.logger.Info("Connected to Redis", "addr", opts.Addr)
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Update(ctx context.Context, bakeryID int, fn func(*queue.BakeryState) error) error {
	lock := s.lockFor(bakeryID)
	lock.Lock()
	defer lock.Unlock()

	st, err := s.load(ctx, bakeryID)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.save(ctx, st)
}

func (s *Store) View(ctx context.Context, bakeryID int, fn func(*queue.BakeryState) error) error {
	lock := s.lockFor(bakeryID)
	lock.Lock()
	defer lock.Unlock()

	st, err := s.load(ctx, bakeryID)
	if err != nil {
		return err
	}
	return fn(st)
}

// Purge snapshots the final state of the day and drops the key family.
func (s *Store) Purge(ctx context.Context, bakeryID int) error {
	lock := s.lockFor(bakeryID)
	lock.Lock()
	defer lock.Unlock()

	st, err := s.load(ctx, bakeryID)
	if err == nil {
		if data, merr := json.Marshal(st); merr == nil {
			if serr := s.journal.SaveSnapshot(ctx, bakeryID, s.today(), data); serr != nil {
				s.logger.Error("cannot save final snapshot", "bakery_id", bakeryID, "error", serr)
			}
		}
	} else if queue.KindOf(err) != queue.KindNotFound {
		return err
	}

	return s.withRetry(func() error {
		return s.client.Del(ctx, s.allKeys(bakeryID)...).Err()
	})
}

func (s *Store) lockFor(bakeryID int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[bakeryID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[bakeryID] = lock
	}
	return lock
}

func (s *Store) key(bakeryID int, suffix string) string {
	return fmt.Sprintf("bakery:%d:%s", bakeryID, suffix)
}

func (s *Store) allKeys(bakeryID int) []string {
	suffixes := []string{
		"queue_state", "reservations", "reservation_order", "wait_list",
		"served", "breads", "prep_state", "display_flag",
		"last_bread_time", "last_bread_index", "bread_time_diff",
		"upcoming_breads", "upcoming_customers",
		"time_per_bread", "baking_time_s", "timeout_sec", "token", "last_ticket",
	}
	keys := make([]string, len(suffixes))
	for i, suf := range suffixes {
		keys[i] = s.key(bakeryID, suf)
	}
	return keys
}

func (s *Store) localNow() time.Time {
	return s.now().In(s.loc)
}

func (s *Store) today() string {
	return s.localNow().Format("2006-01-02")
}

// midnight is the moment the whole key family expires.
func (s *Store) midnight() time.Time {
	now := s.localNow()
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)
}

// load reads the key family, rebuilding from the journal when the cache is
// empty or undecodable.
func (s *Store) load(ctx context.Context, bakeryID int) (*queue.BakeryState, error) {
	var raw string
	err := s.withRetry(func() error {
		var gerr error
		raw, gerr = s.client.Get(ctx, s.key(bakeryID, "queue_state")).Result()
		if errors.Is(gerr, goredis.Nil) {
			raw = ""
			return nil
		}
		return gerr
	})
	if err != nil {
		return nil, queue.Transient(err)
	}
	if raw == "" {
		return s.rebuild(ctx, bakeryID)
	}

	st, err := s.readFamily(ctx, bakeryID, raw)
	if err != nil {
		s.logger.Error("cache undecodable, rebuilding from journal", "bakery_id", bakeryID, "error", err)
		return s.rebuild(ctx, bakeryID)
	}
	return st, nil
}

// rebuild recovers the day state from the journal and writes the key
// family back, so read-only traffic after a cache loss does not repeat the
// journal round trip. Callers hold the bakery lock.
func (s *Store) rebuild(ctx context.Context, bakeryID int) (*queue.BakeryState, error) {
	st, err := s.coldLoad(ctx, bakeryID)
	if err != nil {
		return nil, err
	}
	if serr := s.save(ctx, st); serr != nil {
		s.logger.Error("cannot repopulate cache", "bakery_id", bakeryID, "error", serr)
	}
	return st, nil
}

func (s *Store) readFamily(ctx context.Context, bakeryID int, rawQueue string) (*queue.BakeryState, error) {
	var (
		reservations, waitList, prepTimes map[string]string
		served, upBreads                  []string
		breads                            []string
		upCustomers                       []goredis.Z
		prepRaw, diffRaw                  string
		bakingRaw, timeoutRaw, token      string
		lastTimeRaw, lastIndexRaw         string
		displayRaw                        string
	)

	err := s.withRetry(func() error {
		cmds := struct {
			reservations, waitList, prepTimes                 *goredis.MapStringStringCmd
			served, upBreads, breads                          *goredis.StringSliceCmd
			upCustomers                                       *goredis.ZSliceCmd
			prep, diffs, baking, timeout, token               *goredis.StringCmd
			lastTime, lastIndex, display                      *goredis.StringCmd
		}{}
		_, perr := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			cmds.reservations = pipe.HGetAll(ctx, s.key(bakeryID, "reservations"))
			cmds.waitList = pipe.HGetAll(ctx, s.key(bakeryID, "wait_list"))
			cmds.prepTimes = pipe.HGetAll(ctx, s.key(bakeryID, "time_per_bread"))
			cmds.served = pipe.SMembers(ctx, s.key(bakeryID, "served"))
			cmds.upBreads = pipe.SMembers(ctx, s.key(bakeryID, "upcoming_breads"))
			cmds.breads = pipe.ZRange(ctx, s.key(bakeryID, "breads"), 0, -1)
			cmds.upCustomers = pipe.ZRangeWithScores(ctx, s.key(bakeryID, "upcoming_customers"), 0, -1)
			cmds.prep = pipe.Get(ctx, s.key(bakeryID, "prep_state"))
			cmds.diffs = pipe.Get(ctx, s.key(bakeryID, "bread_time_diff"))
			cmds.baking = pipe.Get(ctx, s.key(bakeryID, "baking_time_s"))
			cmds.timeout = pipe.Get(ctx, s.key(bakeryID, "timeout_sec"))
			cmds.token = pipe.Get(ctx, s.key(bakeryID, "token"))
			cmds.lastTime = pipe.Get(ctx, s.key(bakeryID, "last_bread_time"))
			cmds.lastIndex = pipe.Get(ctx, s.key(bakeryID, "last_bread_index"))
			cmds.display = pipe.Get(ctx, s.key(bakeryID, "display_flag"))
			return nil
		})
		if perr != nil && !errors.Is(perr, goredis.Nil) {
			return perr
		}
		reservations, _ = cmds.reservations.Result()
		waitList, _ = cmds.waitList.Result()
		prepTimes, _ = cmds.prepTimes.Result()
		served, _ = cmds.served.Result()
		upBreads, _ = cmds.upBreads.Result()
		breads, _ = cmds.breads.Result()
		upCustomers, _ = cmds.upCustomers.Result()
		prepRaw, _ = cmds.prep.Result()
		diffRaw, _ = cmds.diffs.Result()
		bakingRaw, _ = cmds.baking.Result()
		timeoutRaw, _ = cmds.timeout.Result()
		token, _ = cmds.token.Result()
		lastTimeRaw, _ = cmds.lastTime.Result()
		lastIndexRaw, _ = cmds.lastIndex.Result()
		displayRaw, _ = cmds.display.Result()
		return nil
	})
	if err != nil {
		return nil, queue.Transient(err)
	}

	cfg := &queue.BakeryConfig{
		BakeryID:  bakeryID,
		Token:     token,
		PrepTimes: make(map[int]int, len(prepTimes)),
	}
	for k, v := range prepTimes {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad prep time key %q", k)
		}
		sec, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("bad prep time value %q", v)
		}
		cfg.PrepTimes[id] = sec
	}
	if cfg.BakingTimeS, err = strconv.Atoi(bakingRaw); err != nil {
		return nil, fmt.Errorf("bad baking time %q", bakingRaw)
	}
	if cfg.TimeoutS, err = strconv.Atoi(timeoutRaw); err != nil {
		return nil, fmt.Errorf("bad timeout %q", timeoutRaw)
	}

	st := queue.NewBakeryState(cfg)
	if err := json.Unmarshal([]byte(rawQueue), st.Queue); err != nil {
		return nil, fmt.Errorf("bad queue state: %w", err)
	}

	for k, v := range reservations {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad reservation key %q", k)
		}
		res, err := decodeReservation(v)
		if err != nil {
			return nil, err
		}
		st.Reservations[n] = res
	}
	for k, v := range waitList {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad wait list key %q", k)
		}
		res, err := decodeReservation(v)
		if err != nil {
			return nil, err
		}
		st.WaitList[n] = res
	}
	for _, m := range served {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("bad served member %q", m)
		}
		st.Served[n] = struct{}{}
	}
	for _, m := range breads {
		b, err := decodeBread(m)
		if err != nil {
			return nil, err
		}
		st.Breads = append(st.Breads, b)
	}
	for _, m := range upBreads {
		id, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("bad upcoming bread member %q", m)
		}
		st.UpcomingBreads[id] = struct{}{}
	}
	for _, z := range upCustomers {
		st.UpcomingCustomers[int(z.Score)] = struct{}{}
	}
	if prepRaw != "" {
		if st.Prep, err = decodePrep(prepRaw); err != nil {
			return nil, err
		}
	}
	if diffRaw != "" {
		if st.BreadTimeDiffs, err = decodeDiffs(diffRaw); err != nil {
			return nil, err
		}
	}
	if lastTimeRaw != "" {
		if st.LastBreadTime, err = strconv.ParseInt(lastTimeRaw, 10, 64); err != nil {
			return nil, fmt.Errorf("bad last bread time %q", lastTimeRaw)
		}
	}
	if lastIndexRaw != "" {
		if st.LastBreadIndex, err = strconv.ParseInt(lastIndexRaw, 10, 64); err != nil {
			return nil, fmt.Errorf("bad last bread index %q", lastIndexRaw)
		}
	}
	st.DisplayFlag = displayRaw == "1"
	return st, nil
}

// coldLoad builds the day state from the journal: today's snapshot when
// one exists, otherwise a fresh state seeded past the last ticket the
// journal saw today.
func (s *Store) coldLoad(ctx context.Context, bakeryID int) (*queue.BakeryState, error) {
	cfg, err := s.journal.Config(ctx, bakeryID)
	if err != nil {
		return nil, err
	}

	data, err := s.journal.LoadSnapshot(ctx, bakeryID, s.today())
	if err != nil && queue.KindOf(err) != queue.KindNotFound {
		return nil, err
	}
	if len(data) > 0 {
		st := &queue.BakeryState{}
		if uerr := json.Unmarshal(data, st); uerr == nil {
			st.Normalize(cfg)
			st.RebuildPrepState()
			st.DisplayFlag = len(st.Breads) == 0
			s.logger.Info("state rebuilt from snapshot", "bakery_id", bakeryID)
			return st, nil
		}
		s.logger.Error("snapshot undecodable, starting fresh", "bakery_id", bakeryID)
	}

	st := queue.NewBakeryState(cfg)
	st.DisplayFlag = true
	last, err := s.journal.LastTicketNumber(ctx, bakeryID, s.today())
	if err == nil && last > 0 {
		st.Queue.NextNumber = last + 1
	}
	return st, nil
}

// save rewrites the whole key family in one transaction and pushes a
// snapshot to the journal off the request path.
func (s *Store) save(ctx context.Context, st *queue.BakeryState) error {
	bakeryID := st.Config.BakeryID
	queueJSON, err := json.Marshal(st.Queue)
	if err != nil {
		return err
	}
	exp := s.midnight()

	err = s.withRetry(func() error {
		_, terr := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.allKeys(bakeryID)...)

			pipe.Set(ctx, s.key(bakeryID, "queue_state"), queueJSON, 0)
			pipe.Set(ctx, s.key(bakeryID, "baking_time_s"), st.Config.BakingTimeS, 0)
			pipe.Set(ctx, s.key(bakeryID, "timeout_sec"), st.Config.TimeoutS, 0)
			pipe.Set(ctx, s.key(bakeryID, "token"), st.Config.Token, 0)
			pipe.Set(ctx, s.key(bakeryID, "last_ticket"), st.Queue.NextNumber-1, 0)
			pipe.Set(ctx, s.key(bakeryID, "prep_state"), encodePrep(st.Prep), 0)
			pipe.Set(ctx, s.key(bakeryID, "last_bread_time"), st.LastBreadTime, 0)
			pipe.Set(ctx, s.key(bakeryID, "last_bread_index"), st.LastBreadIndex, 0)
			pipe.Set(ctx, s.key(bakeryID, "bread_time_diff"), encodeDiffs(st.BreadTimeDiffs), 0)

			display := "0"
			if st.DisplayFlag {
				display = "1"
			}
			pipe.Set(ctx, s.key(bakeryID, "display_flag"), display, 0)

			prepTimes := make(map[string]string, len(st.Config.PrepTimes))
			for id, sec := range st.Config.PrepTimes {
				prepTimes[strconv.Itoa(id)] = strconv.Itoa(sec)
			}
			if len(prepTimes) > 0 {
				pipe.HSet(ctx, s.key(bakeryID, "time_per_bread"), prepTimes)
			}

			if len(st.Reservations) > 0 {
				fields := make(map[string]string, len(st.Reservations))
				var order []goredis.Z
				for n, res := range st.Reservations {
					fields[strconv.Itoa(n)] = encodeReservation(res)
					order = append(order, goredis.Z{Score: float64(n), Member: strconv.Itoa(n)})
				}
				pipe.HSet(ctx, s.key(bakeryID, "reservations"), fields)
				pipe.ZAdd(ctx, s.key(bakeryID, "reservation_order"), order...)
			}
			if len(st.WaitList) > 0 {
				fields := make(map[string]string, len(st.WaitList))
				for n, res := range st.WaitList {
					fields[strconv.Itoa(n)] = encodeReservation(res)
				}
				pipe.HSet(ctx, s.key(bakeryID, "wait_list"), fields)
			}
			if len(st.Served) > 0 {
				members := make([]any, 0, len(st.Served))
				for n := range st.Served {
					members = append(members, n)
				}
				pipe.SAdd(ctx, s.key(bakeryID, "served"), members...)
			}
			if len(st.Breads) > 0 {
				zs := make([]goredis.Z, len(st.Breads))
				for i, b := range st.Breads {
					zs[i] = goredis.Z{Score: float64(b.Index), Member: encodeBread(b)}
				}
				pipe.ZAdd(ctx, s.key(bakeryID, "breads"), zs...)
			}
			if len(st.UpcomingBreads) > 0 {
				members := make([]any, 0, len(st.UpcomingBreads))
				for id := range st.UpcomingBreads {
					members = append(members, id)
				}
				pipe.SAdd(ctx, s.key(bakeryID, "upcoming_breads"), members...)
			}
			if len(st.UpcomingCustomers) > 0 {
				zs := make([]goredis.Z, 0, len(st.UpcomingCustomers))
				for n := range st.UpcomingCustomers {
					zs = append(zs, goredis.Z{Score: float64(n), Member: strconv.Itoa(n)})
				}
				pipe.ZAdd(ctx, s.key(bakeryID, "upcoming_customers"), zs...)
			}

			for _, k := range s.allKeys(bakeryID) {
				pipe.ExpireAt(ctx, k, exp)
			}
			return nil
		})
		return terr
	})
	if err != nil {
		return queue.Transient(err)
	}

	s.snapshotAsync(bakeryID, st)
	return nil
}

func (s *Store) snapshotAsync(bakeryID int, st *queue.BakeryState) {
	data, err := json.Marshal(st)
	if err != nil {
		s.logger.Error("cannot marshal snapshot", "bakery_id", bakeryID, "error", err)
		return
	}
	date := s.today()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.journal.SaveSnapshot(ctx, bakeryID, date, data); err != nil {
			s.logger.Error("cannot save snapshot", "bakery_id", bakeryID, "error", err)
		}
	}()
}

func (s *Store) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < opRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}
