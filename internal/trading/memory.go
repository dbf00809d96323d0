package trading

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tradecore/internal/domain"
	"tradecore/internal/outbox"
)

// MemoryRepository implements Repository in memory with staged commits:
// nothing inside WithinTx is visible until the function returns nil, and an
// error discards every staged write including outbox rows. Backs the
// service tests and single-process development mode.
type MemoryRepository struct {
	mu          sync.Mutex
	portfolios  map[string]*portfolioRec
	trades      map[string]*domain.Trade
	byClientReq map[string]string // portfolioID+"\x00"+clientRequestID -> tradeID
	outbox      *outbox.Memory

	// FailCommit, when set, makes the next WithinTx fail after fn ran but
	// before any staged write lands. Simulates a commit-time failure.
	FailCommit error
}

type portfolioRec struct {
	userID    string
	risk      domain.RiskParameters
	positions map[string]*domain.Position
}

func NewMemoryRepository(ob *outbox.Memory) *MemoryRepository {
	return &MemoryRepository{
		portfolios:  make(map[string]*portfolioRec),
		trades:      make(map[string]*domain.Trade),
		byClientReq: make(map[string]string),
		outbox:      ob,
	}
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, ops TxOps) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staged := &memTxOps{repo: r}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	if err := r.FailCommit; err != nil {
		r.FailCommit = nil
		return err
	}
	return staged.commit(ctx)
}

type memTxOps struct {
	repo      *MemoryRepository
	trades    []*domain.Trade
	positions []*domain.Position
	events    []outbox.Event
	statuses  []*domain.Trade
}

func (o *memTxOps) GetPortfolioForUpdate(_ context.Context, id string) (*domain.Portfolio, error) {
	return o.repo.restorePortfolioLocked(id)
}

func (o *memTxOps) GetTradeForUpdate(_ context.Context, id string) (*domain.Trade, error) {
	t, ok := o.repo.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	cp := *t
	return &cp, nil
}

func (o *memTxOps) InsertTrade(_ context.Context, t *domain.Trade) error {
	key := t.PortfolioID + "\x00" + t.ClientRequestID
	if _, ok := o.repo.byClientReq[key]; ok {
		return ErrDuplicateRequest
	}
	o.trades = append(o.trades, t)
	return nil
}

func (o *memTxOps) UpdateTradeStatus(_ context.Context, t *domain.Trade, from domain.TradeStatus) error {
	cur, ok := o.repo.trades[t.ID]
	if !ok {
		return ErrTradeNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("%w: trade %s is no longer %s", domain.ErrInvalidTransition, t.ID, from)
	}
	o.statuses = append(o.statuses, t)
	return nil
}

func (o *memTxOps) SavePosition(_ context.Context, p *domain.Position) error {
	o.positions = append(o.positions, p)
	return nil
}

func (o *memTxOps) AppendEvents(_ context.Context, evts []outbox.Event) error {
	o.events = append(o.events, evts...)
	return nil
}

func (o *memTxOps) commit(ctx context.Context) error {
	r := o.repo
	for _, t := range o.trades {
		cp := *t
		r.trades[t.ID] = &cp
		// Exchange-rejected trades are audit rows only; the idempotency
		// key stays free so the caller can resubmit the same request.
		if !(t.Status == domain.TradeStatusFailed && t.ExchangeOrderID == "") {
			r.byClientReq[t.PortfolioID+"\x00"+t.ClientRequestID] = t.ID
		}
	}
	for _, t := range o.statuses {
		cp := *t
		r.trades[t.ID] = &cp
	}
	for _, p := range o.positions {
		rec, ok := r.portfolios[p.PortfolioID]
		if !ok {
			return ErrPortfolioNotFound
		}
		cp := *p
		rec.positions[p.Asset.Symbol] = &cp
	}
	if len(o.events) > 0 {
		return r.outbox.Append(ctx, o.events)
	}
	return nil
}

func (r *MemoryRepository) CreatePortfolio(_ context.Context, pf *domain.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &portfolioRec{userID: pf.UserID, risk: pf.Risk, positions: make(map[string]*domain.Position)}
	for _, p := range pf.Positions() {
		cp := *p
		rec.positions[p.Asset.Symbol] = &cp
	}
	r.portfolios[pf.ID] = rec
	return nil
}

func (r *MemoryRepository) GetPortfolio(_ context.Context, id string) (*domain.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restorePortfolioLocked(id)
}

func (r *MemoryRepository) restorePortfolioLocked(id string) (*domain.Portfolio, error) {
	rec, ok := r.portfolios[id]
	if !ok {
		return nil, ErrPortfolioNotFound
	}
	positions := make([]*domain.Position, 0, len(rec.positions))
	for _, p := range rec.positions {
		cp := *p
		positions = append(positions, &cp)
	}
	return domain.RestorePortfolio(id, rec.userID, rec.risk, positions)
}

func (r *MemoryRepository) GetTrade(_ context.Context, id string) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) FindTradeByClientRequestID(_ context.Context, portfolioID, clientRequestID string) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byClientReq[portfolioID+"\x00"+clientRequestID]
	if !ok {
		return nil, nil
	}
	cp := *r.trades[id]
	return &cp, nil
}

func (r *MemoryRepository) ListTrades(_ context.Context, portfolioID string, limit int) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.PortfolioID == portfolioID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
