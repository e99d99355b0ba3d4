package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/netchange-gateway/internal/confirm"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"github.com/xela07ax/netchange-gateway/internal/pipeline"
	"github.com/xela07ax/netchange-gateway/internal/rollback"
	"go.uber.org/zap"
)

// SubmitRequest — тело POST /v1/changes
type SubmitRequest struct {
	Origin     string       `json:"origin"` // interactive / programmatic
	Operation  string       `json:"operation"`
	Kind       string       `json:"kind"`
	NetworkID  string       `json:"network_id"`
	Scope      string       `json:"scope,omitempty"`
	DeviceType string       `json:"device_type,omitempty"`
	TargetIDs  []string     `json:"target_ids,omitempty"`
	Params     domain.State `json:"params"`
}

// SubmitResponse — превью, которое оператор должен подтвердить
type SubmitResponse struct {
	RequestID   string                `json:"request_id"`
	Preview     *domain.ChangePreview `json:"preview"`
	PreviewHash string                `json:"preview_hash"`
	Needed      int                   `json:"approvals_needed"`
}

// RunStatus — состояние прогона для GET /v1/changes/{id}
type RunStatus struct {
	RequestID string                 `json:"request_id"`
	Phase     string                 `json:"phase"` // preparing / pending / running / finished / failed
	Gate      *confirm.Status        `json:"gate,omitempty"`
	Entry     *domain.ChangeLogEntry `json:"entry,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type runState struct {
	req     *domain.ChangeRequest
	preview *domain.ChangePreview
	entry   *domain.ChangeLogEntry
	err     error

	sess         *pipeline.Session
	previewReady chan struct{}
	done         chan struct{}
}

// ChangeService принимает запросы на изменение, гонит их через конвейер
// в фоне и транслирует решения операторов в шлюз подтверждения через
// Redis. Прогон живет дольше HTTP-запроса: Submit возвращается сразу
// после построения превью, остальное оператор тянет поллингом.
type ChangeService struct {
	pipe *pipeline.Pipeline
	gate *confirm.Gate
	rb   *rollback.Engine
	rdb  *redis.Client

	mu       sync.Mutex
	runs     map[string]*runState
	sessions map[string]*pipeline.Session // Одна сессия на оператора

	previewWait time.Duration
	logger      *zap.Logger
}

func NewChangeService(gate *confirm.Gate, rb *rollback.Engine, rdb *redis.Client, logger *zap.Logger) *ChangeService {
	return &ChangeService{
		gate:        gate,
		rb:          rb,
		rdb:         rdb,
		runs:        make(map[string]*runState),
		sessions:    make(map[string]*pipeline.Session),
		previewWait: 30 * time.Second,
		logger:      logger.Named("change-service"),
	}
}

// AttachPipeline замыкает цикл сборки: сервис — нотификатор конвейера,
// конвейер — исполнитель прогонов сервиса
func (s *ChangeService) AttachPipeline(pipe *pipeline.Pipeline) {
	s.pipe = pipe
}

// PreviewBuilt реализует pipeline.StageNotifier: превью готово,
// Submit может отдать его оператору
func (s *ChangeService) PreviewBuilt(req *domain.ChangeRequest, p *domain.ChangePreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[req.ID]
	if !ok {
		// Прогон запущен не через Submit (откат): регистрируем на лету
		run = &runState{
			req:          req,
			previewReady: make(chan struct{}),
			done:         make(chan struct{}),
		}
		s.runs[req.ID] = run
	}
	run.preview = p
	close(run.previewReady)
}

func (s *ChangeService) session(operator string) *pipeline.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[operator]
	if !ok {
		sess = pipeline.NewSession(operator, "")
		s.sessions[operator] = sess
	}
	return sess
}

// Submit запускает конвейер в фоне и блокирует только до готовности
// превью. Ответ несет хэш поколения: решение оператора обязано
// вернуть его точно.
func (s *ChangeService) Submit(ctx context.Context, operator string, in SubmitRequest) (*SubmitResponse, error) {
	op := domain.OperationKind(in.Operation)
	if !op.Mutating() {
		return nil, fmt.Errorf("unsupported operation %q", in.Operation)
	}
	origin := domain.RequestOrigin(in.Origin)
	if origin != domain.OriginProgrammatic {
		origin = domain.OriginInteractive
	}

	req := domain.NewChangeRequest(origin, op, domain.ResourceKind(in.Kind), domain.TargetScope{
		NetworkID:   in.NetworkID,
		Description: in.Scope,
		DeviceType:  in.DeviceType,
	}, in.Params)
	req.TargetIDs = in.TargetIDs

	run := &runState{
		req:          req,
		sess:         s.session(operator),
		previewReady: make(chan struct{}),
		done:         make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[req.ID] = run
	s.mu.Unlock()

	// Фоновый прогон живет на Background: HTTP-контекст Submit умрет
	// раньше, чем оператор примет решение
	go func() {
		entry, err := s.pipe.Run(context.Background(), run.sess, req)
		s.mu.Lock()
		run.entry = entry
		run.err = err
		s.mu.Unlock()
		close(run.done)
	}()

	// Ждем превью либо ранний отказ (резолв, превью)
	select {
	case <-run.previewReady:
	case <-run.done:
		if run.err != nil {
			return nil, run.err
		}
	case <-time.After(s.previewWait):
		return nil, fmt.Errorf("preview not ready within %v", s.previewWait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	p := run.preview
	s.mu.Unlock()
	if p == nil {
		return nil, errors.New("pipeline finished without a preview")
	}

	needed := 1
	if p.Risk == domain.RiskCritical {
		needed = 2
	}
	return &SubmitResponse{
		RequestID:   req.ID,
		Preview:     p,
		PreviewHash: p.Hash,
		Needed:      needed,
	}, nil
}

// SubmitRollback запускает откат записи журнала. Откат — обычный
// прогон: он получит собственное превью и собственное подтверждение.
func (s *ChangeService) SubmitRollback(operator, changeID string) {
	sess := s.session(operator)
	go func() {
		if _, err := s.rb.Rollback(context.Background(), sess, changeID); err != nil {
			s.logger.Warn("rollback run failed",
				zap.String("change_id", changeID), zap.Error(err))
		}
	}()
}

// Decide публикует решение оператора в Redis; шлюз подтверждения
// подписан на канал и применит его к ожидающему прогону
func (s *ChangeService) Decide(ctx context.Context, d confirm.Decision) error {
	return confirm.PublishDecision(ctx, s.rdb, d)
}

// Status отдает текущее состояние прогона
func (s *ChangeService) Status(requestID string) (*RunStatus, error) {
	s.mu.Lock()
	run, ok := s.runs[requestID]
	s.mu.Unlock()

	// Прогон мог стартовать не через Submit — смотрим в шлюз
	if !ok {
		if gs, pending := s.gate.Snapshot(requestID); pending {
			return &RunStatus{RequestID: requestID, Phase: "pending", Gate: gs}, nil
		}
		return nil, fmt.Errorf("request %s not found", requestID)
	}

	st := &RunStatus{RequestID: requestID}

	select {
	case <-run.done:
		s.mu.Lock()
		st.Entry = run.entry
		if run.err != nil {
			st.Error = run.err.Error()
			st.Phase = "failed"
		} else {
			st.Phase = "finished"
		}
		s.mu.Unlock()
		return st, nil
	default:
	}

	if gs, pending := s.gate.Snapshot(requestID); pending {
		st.Phase = "pending"
		st.Gate = gs
		return st, nil
	}

	select {
	case <-run.previewReady:
		st.Phase = "running"
	default:
		st.Phase = "preparing"
	}
	return st, nil
}

// PendingQueue — очередь запросов, ожидающих решения
func (s *ChangeService) PendingQueue() []confirm.Status {
	return s.gate.Pending()
}

// Cancel кооперативно останавливает активный прогон оператора
func (s *ChangeService) Cancel(operator string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[operator]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return sess.Cancel()
}
