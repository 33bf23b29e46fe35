// Package replicant собирает компоненты реплики в единый actor.
// Все мутации ledger'а и голосов сериализуются через один goroutine
// (mailbox команд), поэтому CRDT merges никогда не гонятся между
// собой; чтения отдаются из консистентных копий. Локальные вызовы
// appendSemanticClaim/vote возвращаются сразу после durable записи
// в WAL, не дожидаясь сети.
package replicant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chrysalis/replicant/internal/bootstrap"
	"github.com/chrysalis/replicant/internal/claimhash"
	"github.com/chrysalis/replicant/internal/config"
	"github.com/chrysalis/replicant/internal/crdt"
	"github.com/chrysalis/replicant/internal/hubsync"
	"github.com/chrysalis/replicant/internal/metrics"
	"github.com/chrysalis/replicant/internal/models"
	"github.com/chrysalis/replicant/internal/outbox"
	"github.com/chrysalis/replicant/internal/store"
	"github.com/chrysalis/replicant/internal/voting"
	"github.com/chrysalis/replicant/internal/wal"
	"github.com/chrysalis/replicant/pkg/api"
)

const (
	// checkpointInterval — период компакции WAL
	checkpointInterval = time.Minute

	// housekeepingInterval — период проверки таймаутов polls
	// и персистенции часов
	housekeepingInterval = 5 * time.Second
)

// command представляет одну операцию, выполняемую actor'ом
type command struct {
	fn   func() (any, error)
	resp chan cmdResult
}

type cmdResult struct {
	value any
	err   error
}

// Replicant представляет локальную реплику одного агента
type Replicant struct {
	cfg     config.Config
	ledger  *crdt.ClaimLedger
	engine  *voting.Engine
	clock   *crdt.LamportClock
	log     *wal.Log
	meta    store.MetadataStore
	outbox  *outbox.Outbox
	fetcher bootstrap.SnapshotFetcher
	channel *hubsync.Channel
	metrics *metrics.Metrics
	logger  *slog.Logger

	commands chan command
	state    atomic.Value // State
	cursor   atomic.Int64 // последний известный курсор хаба
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New создает реплику поверх уже открытых WAL и metadata хранилища.
// Реплика не делает ничего до Start.
func New(
	cfg config.Config,
	log *wal.Log,
	meta store.MetadataStore,
	fetcher bootstrap.SnapshotFetcher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Replicant {
	r := &Replicant{
		cfg:      cfg,
		ledger:   crdt.NewClaimLedger(),
		engine:   voting.NewEngine(voting.Config{Quorum: cfg.Quorum, PollTimeout: cfg.PollTimeout}, logger),
		clock:    crdt.NewLamportClock(cfg.InstanceID),
		log:      log,
		meta:     meta,
		outbox:   outbox.New(),
		fetcher:  fetcher,
		metrics:  m,
		logger:   logger,
		commands: make(chan command),
	}
	r.state.Store(StateInit)

	r.channel = hubsync.New(hubsync.Config{
		URL:           cfg.CRDTWs,
		AgentID:       cfg.AgentID,
		InstanceID:    cfg.InstanceID,
		FlushInterval: cfg.FlushInterval,
		MaxBackoff:    cfg.MaxBackoff,
	}, r, r.outbox, r.cursor.Load, m, logger)

	return r
}

// State возвращает текущее состояние жизненного цикла.
// В рабочем режиме состояние выводится из связности канала:
// SYNCING при живом WebSocket, RECONNECTING при потере сети.
func (r *Replicant) State() State {
	s := r.state.Load().(State)
	if s != StateSyncing {
		return s
	}
	if !r.channel.Connected() {
		return StateReconnecting
	}
	return StateSyncing
}

// OutboxLen возвращает количество неподтвержденных локальных мутаций.
func (r *Replicant) OutboxLen() int {
	return r.outbox.Len()
}

// Start поднимает реплику: replay WAL, опциональный bootstrap,
// затем фоновые циклы синхронизации. Блокирует до готовности.
func (r *Replicant) Start(ctx context.Context) error {
	r.state.Store(StateLoading)

	if err := r.verifyIdentity(ctx); err != nil {
		return err
	}
	if err := r.load(ctx); err != nil {
		return fmt.Errorf("failed to load local state: %w", err)
	}

	if need, reason := r.needBootstrap(ctx); need {
		r.state.Store(StateBootstrapping)
		r.logger.Info("bootstrapping from hub", "reason", reason)
		if err := r.bootstrap(ctx); err != nil {
			// Bootstrap best-effort: хаб может быть недоступен,
			// реплика продолжает с локальным состоянием
			r.logger.Warn("bootstrap failed, continuing with local state", "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.group, runCtx = errgroup.WithContext(runCtx)

	r.group.Go(func() error { return r.actorLoop(runCtx) })
	r.group.Go(func() error { return r.channel.Run(runCtx) })
	r.group.Go(func() error { return r.housekeepingLoop(runCtx) })

	r.state.Store(StateSyncing)
	r.logger.Info("replicant started",
		"agent_id", r.cfg.AgentID,
		"instance_id", r.cfg.InstanceID,
		"claims", r.ledger.Size(),
		"outbox", r.outbox.Len())
	return nil
}

// Stop останавливает реплику: best-effort flush outbox, закрытие
// WebSocket, финальный fsync и закрытие хранилищ. Локальные данные
// не теряются — недоставленное уедет при следующем старте.
func (r *Replicant) Stop(ctx context.Context) error {
	if r.state.Load().(State) == StateStopped {
		return nil
	}

	flushCtx, cancel := context.WithTimeout(ctx, r.cfg.StopTimeout)
	defer cancel()
	if err := r.channel.Flush(flushCtx); err != nil {
		r.logger.Warn("final outbox flush failed", "error", err)
	}

	if r.cancel != nil {
		r.cancel()
		if err := r.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("background task failed during stop", "error", err)
		}
	}

	if err := r.meta.SaveClock(context.Background(), r.clock.Now()); err != nil {
		r.logger.Warn("failed to persist clock", "error", err)
	}
	if err := r.log.Close(); err != nil {
		r.logger.Warn("failed to close wal", "error", err)
	}
	if err := r.meta.Close(); err != nil {
		r.logger.Warn("failed to close metadata store", "error", err)
	}

	r.state.Store(StateStopped)
	r.logger.Info("replicant stopped", "outbox", r.outbox.Len())
	return nil
}

// AppendSemanticClaim создает claim и возвращает его hash сразу после
// durable записи в WAL, не дожидаясь доставки хабу. Повторная вставка
// известной тройки (key, value, source) возвращает тот же hash
// и не растит ledger.
func (r *Replicant) AppendSemanticClaim(ctx context.Context, key, value, source string) (string, error) {
	result, err := r.do(ctx, func() (any, error) {
		hash, err := claimhash.Compute(key, value, source)
		if err != nil {
			return nil, fmt.Errorf("failed to compute claim hash: %w", err)
		}

		// Идемпотентный no-op: тройка уже известна
		if r.ledger.Contains(hash) {
			r.metrics.ClaimsDuplicate.Inc()
			return hash, nil
		}

		claim := &models.Claim{
			Hash:      hash,
			Key:       key,
			Value:     value,
			Source:    source,
			CreatedBy: r.cfg.InstanceID,
			CreatedAt: time.Now().UTC(),
			Timestamp: r.clock.Tick(),
		}

		entryID := uuid.New().String()
		apiClaim := claim.ToAPI()
		rec := &wal.Record{Kind: wal.RecordClaim, EntryID: entryID, Claim: &apiClaim}
		if _, err := r.log.Append(rec); err != nil {
			// StorageError фатальна только для этого вызова
			return nil, fmt.Errorf("storage error: %w", err)
		}

		r.ledger.Insert(claim)
		r.outbox.Add(&api.Delta{ID: entryID, Kind: api.DeltaKindClaim, Claim: &apiClaim})
		r.metrics.ClaimsInserted.Inc()
		r.metrics.OutboxSize.Set(float64(r.outbox.Len()))

		r.maybeRaisePoll(claim.Key)

		return hash, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Vote записывает голос этого агента и возвращается сразу после
// durable записи в WAL. Голос перезаписывает предыдущий голос агента
// в том же poll (LWW).
func (r *Replicant) Vote(ctx context.Context, pollID, claimHash string) error {
	_, err := r.do(ctx, func() (any, error) {
		vote := &models.Vote{
			PollID:    pollID,
			VoterID:   r.cfg.AgentID,
			ClaimHash: claimHash,
			NodeID:    r.cfg.InstanceID,
			Weight:    1,
			Timestamp: r.clock.Tick(),
			CastAt:    time.Now().UTC(),
		}

		entryID := uuid.New().String()
		apiVote := vote.ToAPI()
		rec := &wal.Record{Kind: wal.RecordVote, EntryID: entryID, Vote: &apiVote}
		if _, err := r.log.Append(rec); err != nil {
			return nil, fmt.Errorf("storage error: %w", err)
		}

		r.engine.Vote(vote)
		r.outbox.Add(&api.Delta{ID: entryID, Kind: api.DeltaKindVote, Vote: &apiVote})
		r.metrics.VotesRecorded.Inc()
		r.metrics.OutboxSize.Set(float64(r.outbox.Len()))

		return nil, nil
	})
	return err
}

// QueryKey возвращает все claims под заданным ключом.
func (r *Replicant) QueryKey(ctx context.Context, key string) ([]*models.Claim, error) {
	result, err := r.do(ctx, func() (any, error) {
		hashes := r.ledger.QueryByKey(key)
		claims := make([]*models.Claim, 0, len(hashes))
		for _, hash := range hashes {
			if claim := r.ledger.Get(hash); claim != nil {
				claims = append(claims, claim)
			}
		}
		return claims, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*models.Claim), nil
}

// TallyPoll возвращает текущий подсчет голосов poll.
func (r *Replicant) TallyPoll(ctx context.Context, pollID string) (*voting.TallyResult, error) {
	result, err := r.do(ctx, func() (any, error) {
		tally := r.engine.Tally(pollID)
		if tally == nil {
			return nil, ErrPollNotFound
		}
		return tally, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*voting.TallyResult), nil
}

// MergeDelta применяет входящую delta от хаба. Реализует
// hubsync.MergeSink; дубликаты и любой порядок доставки безвредны.
// Каждая изменившая состояние delta фиксируется в WAL до применения:
// смерженное у хаба обязано пережить рестарт без повторного bootstrap.
func (r *Replicant) MergeDelta(ctx context.Context, delta *api.Delta) error {
	_, err := r.do(ctx, func() (any, error) {
		switch delta.Kind {
		case api.DeltaKindClaim:
			if delta.Claim == nil {
				return nil, fmt.Errorf("%w: claim delta without claim", ErrMalformedDelta)
			}
			return nil, r.mergeClaim(delta.Claim)
		case api.DeltaKindVote:
			if delta.Vote == nil {
				return nil, fmt.Errorf("%w: vote delta without vote", ErrMalformedDelta)
			}
			return nil, r.mergeVote(delta.Vote)
		case api.DeltaKindPoll:
			if delta.Poll == nil {
				return nil, fmt.Errorf("%w: poll delta without poll", ErrMalformedDelta)
			}
			return nil, r.mergePoll(delta.Poll)
		default:
			return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedDelta, delta.Kind)
		}
	})
	return err
}

// AckEntries помечает локальные мутации подтвержденными хабом.
// Реализует hubsync.MergeSink. Ack фиксируется в WAL, чтобы
// рестарт не переотправлял уже доставленное.
func (r *Replicant) AckEntries(ctx context.Context, ids []string) error {
	_, err := r.do(ctx, func() (any, error) {
		for _, id := range ids {
			if !r.outbox.Contains(id) {
				continue
			}
			rec := &wal.Record{Kind: wal.RecordAck, EntryID: id}
			if _, err := r.log.Append(rec); err != nil {
				return nil, fmt.Errorf("storage error: %w", err)
			}
			r.outbox.Ack([]string{id})
			r.metrics.AcksReceived.Inc()
		}
		r.metrics.OutboxSize.Set(float64(r.outbox.Len()))
		return nil, nil
	})
	return err
}

// AdvanceCursor фиксирует объявленную хабом позицию потока.
// Реализует hubsync.MergeSink. Вызывается только после того, как
// покрытый курсором merge durable записан в WAL: объявленный в hello
// курсор никогда не обещает хабу больше, чем переживет рестарт.
func (r *Replicant) AdvanceCursor(cursor int64) {
	if cursor <= r.cursor.Load() {
		return
	}
	r.cursor.Store(cursor)
	if err := r.meta.SaveCursor(context.Background(), cursor); err != nil {
		r.logger.Warn("failed to persist cursor", "error", err)
	}
}

// mergeClaim вставляет удаленный claim с проверкой content address.
// Claim с неверным hash — ProtocolError: отбрасывается, не портя ledger.
// Новый claim пишется в WAL как удаленная запись до вставки.
func (r *Replicant) mergeClaim(remote *api.Claim) error {
	expected, err := claimhash.Compute(remote.Key, remote.Value, remote.Source)
	if err != nil {
		return err
	}
	if remote.Hash != "" && remote.Hash != expected {
		return fmt.Errorf("%w: claim hash mismatch", ErrMalformedDelta)
	}

	claim := models.ClaimFromAPI(*remote)
	claim.Hash = expected
	r.clock.Observe(claim.Timestamp)

	if r.ledger.Contains(expected) {
		r.metrics.ClaimsDuplicate.Inc()
		return nil
	}

	apiClaim := claim.ToAPI()
	rec := &wal.Record{Kind: wal.RecordClaim, EntryID: uuid.New().String(), Remote: true, Claim: &apiClaim}
	if _, err := r.log.Append(rec); err != nil {
		return fmt.Errorf("storage error: %w", err)
	}

	r.ledger.Insert(claim)
	r.metrics.ClaimsInserted.Inc()
	r.maybeRaisePoll(claim.Key)
	return nil
}

// mergeVote применяет удаленный голос. Уже проигравший по LWW голос —
// no-op без записи в WAL.
func (r *Replicant) mergeVote(remote *api.Vote) error {
	vote := models.VoteFromAPI(*remote)
	r.clock.Observe(vote.Timestamp)

	existing := r.engine.GetVote(vote.PollID, vote.VoterID)
	if existing != nil && !vote.IsNewerThan(existing) {
		return nil
	}

	apiVote := vote.ToAPI()
	rec := &wal.Record{Kind: wal.RecordVote, EntryID: uuid.New().String(), Remote: true, Vote: &apiVote}
	if _, err := r.log.Append(rec); err != nil {
		return fmt.Errorf("storage error: %w", err)
	}

	if r.engine.Vote(vote) {
		r.metrics.VotesRecorded.Inc()
	}
	return nil
}

// mergePoll регистрирует удаленный poll. Ничего не меняющий merge
// (тот же набор кандидатов, тот же статус) — no-op без записи в WAL.
func (r *Replicant) mergePoll(remote *api.Poll) error {
	poll := models.PollFromAPI(*remote)

	existing := r.engine.GetPoll(poll.PollID)
	if existing != nil && !pollAddsState(existing, poll) {
		return nil
	}

	apiPoll := poll.ToAPI()
	rec := &wal.Record{Kind: wal.RecordPoll, EntryID: uuid.New().String(), Remote: true, Poll: &apiPoll}
	if _, err := r.log.Append(rec); err != nil {
		return fmt.Errorf("storage error: %w", err)
	}

	r.engine.RegisterPoll(poll)
	return nil
}

// pollAddsState проверяет, добавит ли merge remote что-то к existing:
// нового кандидата либо монотонный переход open -> resolved.
func pollAddsState(existing, remote *models.Poll) bool {
	if remote.Status == models.PollStatusResolved && existing.Status != models.PollStatusResolved {
		return true
	}
	for hash := range remote.Candidates {
		if !existing.HasCandidate(hash) {
			return true
		}
	}
	return false
}

// maybeRaisePoll поднимает poll по ключу, если под ним больше одного
// claim и poll для этого ключа еще не существует. Вызывается только
// из actor goroutine. Пустой ключ не поднимает poll: под ним нет
// осмысленной конкуренции, а неявно зарегистрированные через голос
// polls тоже бесключевые.
func (r *Replicant) maybeRaisePoll(key string) {
	if key == "" {
		return
	}
	hashes := r.ledger.QueryByKey(key)
	if len(hashes) < 2 || r.engine.HasPollForKey(key) {
		return
	}

	poll := models.NewPoll(uuid.New().String(), key, hashes, time.Now().UTC())
	entryID := uuid.New().String()
	apiPoll := poll.ToAPI()
	rec := &wal.Record{Kind: wal.RecordPoll, EntryID: entryID, Poll: &apiPoll}
	if _, err := r.log.Append(rec); err != nil {
		r.logger.Warn("failed to persist contention poll", "key", key, "error", err)
		return
	}

	r.engine.RegisterPoll(poll)
	r.outbox.Add(&api.Delta{ID: entryID, Kind: api.DeltaKindPoll, Poll: &apiPoll})
	r.logger.Info("contention poll raised", "key", key, "poll_id", poll.PollID, "candidates", len(hashes))
}

// do выполняет fn на actor goroutine и ждет результата.
func (r *Replicant) do(ctx context.Context, fn func() (any, error)) (any, error) {
	switch r.state.Load().(State) {
	case StateInit, StateStopped:
		return nil, ErrNotRunning
	}

	cmd := command{fn: fn, resp: make(chan cmdResult, 1)}

	select {
	case r.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cmd.resp:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// actorLoop — единственный writer всего мутабельного состояния.
func (r *Replicant) actorLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-r.commands:
			value, err := cmd.fn()
			cmd.resp <- cmdResult{value: value, err: err}
		}
	}
}

// housekeepingLoop ведет периодические задачи: таймауты polls,
// персистенцию часов и компакцию WAL.
func (r *Replicant) housekeepingLoop(ctx context.Context) error {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	checkpoint := time.NewTicker(checkpointInterval)
	defer checkpoint.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.engine.ResolveIdle(time.Now())
			if err := r.meta.SaveClock(ctx, r.clock.Now()); err != nil {
				r.logger.Warn("failed to persist clock", "error", err)
			}
		case <-checkpoint.C:
			if err := r.checkpoint(); err != nil {
				r.logger.Warn("wal checkpoint failed", "error", err)
			}
		}
	}
}

// checkpoint компактирует WAL, сохраняя все, что нужно для точного
// воспроизведения состояния без обращения к хабу:
//   - ack записи и дубликаты claims отбрасываются;
//   - подтвержденные локальные мутации понижаются до удаленных —
//     их состояние еще нужно, место в outbox уже нет;
//   - из голосов вне outbox остаются только эффективные по LWW.
func (r *Replicant) checkpoint() error {
	seenClaims := make(map[string]struct{})

	return r.log.Checkpoint(func(rec *wal.Record) *wal.Record {
		if rec.Kind == wal.RecordAck {
			return nil
		}
		if r.outbox.Contains(rec.EntryID) {
			return rec
		}

		switch rec.Kind {
		case wal.RecordClaim:
			if rec.Claim == nil {
				return nil
			}
			if _, dup := seenClaims[rec.Claim.Hash]; dup {
				return nil
			}
			seenClaims[rec.Claim.Hash] = struct{}{}
		case wal.RecordVote:
			if rec.Vote == nil {
				return nil
			}
			effective := r.engine.GetVote(rec.Vote.PollID, rec.Vote.VoterID)
			if effective == nil || effective.Timestamp != rec.Vote.Timestamp || effective.NodeID != rec.Vote.NodeID {
				// Слот перезаписан более новым голосом
				return nil
			}
		}

		demoted := *rec
		demoted.Remote = true
		return &demoted
	})
}

// verifyIdentity сверяет identity в storageDir с конфигурацией.
// Директория другого агента — фатальная ошибка старта.
func (r *Replicant) verifyIdentity(ctx context.Context) error {
	identity, err := r.meta.GetIdentity(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return r.meta.SaveIdentity(ctx, &store.Identity{
			AgentID:    r.cfg.AgentID,
			InstanceID: r.cfg.InstanceID,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to read identity: %w", err)
	}

	if identity.AgentID != r.cfg.AgentID {
		return fmt.Errorf("storage dir belongs to agent %q, not %q", identity.AgentID, r.cfg.AgentID)
	}
	if identity.InstanceID != r.cfg.InstanceID {
		// Новый инстанс того же агента может переиспользовать директорию
		r.logger.Info("storage dir adopted by new instance",
			"previous", identity.InstanceID, "current", r.cfg.InstanceID)
		return r.meta.SaveIdentity(ctx, &store.Identity{
			AgentID:    r.cfg.AgentID,
			InstanceID: r.cfg.InstanceID,
		})
	}
	return nil
}

// load восстанавливает состояние из WAL и metadata.
func (r *Replicant) load(ctx context.Context) error {
	savedClock, err := r.meta.GetClock(ctx)
	if err != nil {
		return err
	}
	r.clock.Restore(savedClock)

	cursor, err := r.meta.GetCursor(ctx)
	if err != nil {
		return err
	}
	r.cursor.Store(cursor)

	replayed := 0
	acked := make(map[string]struct{})
	var mutations []*api.Delta

	err = r.log.Replay(func(rec *wal.Record) error {
		replayed++
		switch rec.Kind {
		case wal.RecordClaim:
			if rec.Claim == nil {
				return nil
			}
			claim := models.ClaimFromAPI(*rec.Claim)
			r.clock.Restore(claim.Timestamp)
			r.ledger.Insert(claim)
			if !rec.Remote {
				mutations = append(mutations, &api.Delta{ID: rec.EntryID, Kind: api.DeltaKindClaim, Claim: rec.Claim})
			}
		case wal.RecordVote:
			if rec.Vote == nil {
				return nil
			}
			vote := models.VoteFromAPI(*rec.Vote)
			r.clock.Restore(vote.Timestamp)
			r.engine.Vote(vote)
			if !rec.Remote {
				mutations = append(mutations, &api.Delta{ID: rec.EntryID, Kind: api.DeltaKindVote, Vote: rec.Vote})
			}
		case wal.RecordPoll:
			if rec.Poll == nil {
				return nil
			}
			r.engine.RegisterPoll(models.PollFromAPI(*rec.Poll))
			if !rec.Remote {
				mutations = append(mutations, &api.Delta{ID: rec.EntryID, Kind: api.DeltaKindPoll, Poll: rec.Poll})
			}
		case wal.RecordAck:
			acked[rec.EntryID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Outbox = мутации без парного ack, в порядке записи
	restored := 0
	for _, delta := range mutations {
		if _, isAcked := acked[delta.ID]; isAcked {
			continue
		}
		if r.outbox.Add(delta) {
			restored++
		}
	}
	r.metrics.OutboxSize.Set(float64(r.outbox.Len()))

	r.logger.Info("local state loaded",
		"wal_records", replayed,
		"claims", r.ledger.Size(),
		"outbox_restored", restored)
	return nil
}

// needBootstrap решает, нужен ли одноразовый HTTPS bootstrap:
// локальное состояние пусто либо реплика была офлайн так долго,
// что инкрементальная синхронизация неэффективна.
func (r *Replicant) needBootstrap(ctx context.Context) (bool, string) {
	if r.ledger.Size() == 0 {
		return true, "empty local state"
	}

	lastBootstrap, err := r.meta.GetLastBootstrap(ctx)
	if err != nil {
		r.logger.Warn("failed to read last bootstrap time", "error", err)
		return true, "unknown bootstrap age"
	}
	if lastBootstrap.IsZero() || time.Since(lastBootstrap) > r.cfg.StaleAfter {
		return true, "stale local state"
	}
	return false, ""
}

// bootstrap загружает снимок и мержит его через те же идемпотентные
// пути, что и deltas: повторный bootstrap безвреден.
func (r *Replicant) bootstrap(ctx context.Context) error {
	snapshot, err := r.fetcher.FetchSnapshot(ctx, r.cfg.AgentID)
	if err != nil {
		return err
	}

	// Polls мержатся первыми: иначе пара конкурирующих claims из
	// снимка подняла бы дубликат уже существующего на хабе poll
	for i := range snapshot.Polls {
		if err := r.mergePoll(&snapshot.Polls[i]); err != nil {
			return err
		}
	}

	added := 0
	for i := range snapshot.Claims {
		if err := r.mergeClaim(&snapshot.Claims[i]); err != nil {
			if errors.Is(err, ErrMalformedDelta) {
				r.metrics.ProtocolErrors.Inc()
				r.logger.Warn("dropping malformed snapshot claim", "error", err)
				continue
			}
			return err
		}
		added++
	}
	for i := range snapshot.Votes {
		if err := r.mergeVote(&snapshot.Votes[i]); err != nil {
			return err
		}
	}

	r.cursor.Store(snapshot.Cursor)
	if err := r.meta.SaveCursor(ctx, snapshot.Cursor); err != nil {
		r.logger.Warn("failed to persist cursor", "error", err)
	}
	if err := r.meta.SaveLastBootstrap(ctx, time.Now()); err != nil {
		r.logger.Warn("failed to persist bootstrap time", "error", err)
	}

	r.logger.Info("snapshot merged",
		"claims", added,
		"polls", len(snapshot.Polls),
		"votes", len(snapshot.Votes),
		"cursor", snapshot.Cursor)
	return nil
}
