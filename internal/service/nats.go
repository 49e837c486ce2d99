package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/taskpet/internal/model"
)

// DefaultCommandPrefix is the subject prefix commands are served under
const DefaultCommandPrefix = "scheduler.cmd"

// Command names, appended to the prefix to form a subject
const (
	OpCreate         = "create"
	OpGet            = "get"
	OpList           = "list"
	OpUpdate         = "update"
	OpDelete         = "delete"
	OpSetEnabled     = "set_enabled"
	OpExecuteNow     = "execute_now"
	OpListExecutions = "list_executions"
)

// Error codes carried in a failed Response
const (
	CodeNotFound = "not_found"
	CodeInvalid  = "invalid"
	CodeStore    = "store"
	CodeInternal = "internal"
)

// Response is the reply envelope of every command
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// IDRequest addresses a single task
type IDRequest struct {
	ID string `json:"id"`
}

// UpdateRequest is the body of an update command
type UpdateRequest struct {
	ID string `json:"id"`
	model.TaskPatch
}

// SetEnabledRequest is the body of a set_enabled command
type SetEnabledRequest struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// ListExecutionsRequest is the body of a list_executions command
type ListExecutionsRequest struct {
	ID    string `json:"id"`
	Limit *int   `json:"limit,omitempty"`
}

// CreateResponse is the data of a successful create
type CreateResponse struct {
	ID string `json:"id"`
}

type commandFunc func(ctx context.Context, data []byte) (any, error)

// NATSBinding serves TaskService over NATS request/reply
type NATSBinding struct {
	nc      *nats.Conn
	service *TaskService
	prefix  string
	logger  *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBinding creates a binding; an empty prefix uses DefaultCommandPrefix
func NewNATSBinding(nc *nats.Conn, service *TaskService, prefix string, logger *zap.Logger) *NATSBinding {
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	return &NATSBinding{
		nc:      nc,
		service: service,
		prefix:  prefix,
		logger:  logger.Named("nats-binding"),
	}
}

// Subject returns the subject a command is served on
func (b *NATSBinding) Subject(op string) string {
	return b.prefix + "." + op
}

// Start subscribes to every command subject. Requests are handled with ctx.
func (b *NATSBinding) Start(ctx context.Context) error {
	commands := map[string]commandFunc{
		OpCreate:         b.create,
		OpGet:            b.get,
		OpList:           b.list,
		OpUpdate:         b.update,
		OpDelete:         b.delete,
		OpSetEnabled:     b.setEnabled,
		OpExecuteNow:     b.executeNow,
		OpListExecutions: b.listExecutions,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for op, fn := range commands {
		op, fn := op, fn
		sub, err := b.nc.Subscribe(b.Subject(op), func(msg *nats.Msg) {
			b.serve(ctx, op, fn, msg)
		})
		if err != nil {
			b.unsubscribeLocked()
			return fmt.Errorf("failed to subscribe to %s: %w", b.Subject(op), err)
		}
		b.subs = append(b.subs, sub)
	}

	b.logger.Info("Serving commands", zap.String("prefix", b.prefix))
	return b.nc.Flush()
}

// Stop removes all command subscriptions
func (b *NATSBinding) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked()
}

func (b *NATSBinding) unsubscribeLocked() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	b.subs = nil
}

func (b *NATSBinding) serve(ctx context.Context, op string, fn commandFunc, msg *nats.Msg) {
	resp := Response{OK: true}

	result, err := fn(ctx, msg.Data)
	if err == nil && result != nil {
		resp.Data, err = json.Marshal(result)
	}
	if err != nil {
		resp = Response{Error: err.Error(), Code: errorCode(err)}
		b.logger.Debug("Command failed",
			zap.String("op", op),
			zap.String("code", resp.Code),
			zap.Error(err))
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("Failed to marshal response", zap.String("op", op), zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Error("Failed to send response", zap.String("op", op), zap.Error(err))
	}
}

func errorCode(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, model.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrConfigDecode),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		return CodeInvalid
	case model.IsStoreError(err):
		return CodeStore
	default:
		return CodeInternal
	}
}

func decodeRequest(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	return nil
}

func decodeID(data []byte) (string, error) {
	var req IDRequest
	if err := decodeRequest(data, &req); err != nil {
		return "", err
	}
	if req.ID == "" {
		return "", fmt.Errorf("%w: id is required", model.ErrInvalidInput)
	}
	return req.ID, nil
}

func (b *NATSBinding) create(ctx context.Context, data []byte) (any, error) {
	var req model.NewTask
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	id, err := b.service.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return CreateResponse{ID: id}, nil
}

func (b *NATSBinding) get(ctx context.Context, data []byte) (any, error) {
	id, err := decodeID(data)
	if err != nil {
		return nil, err
	}
	return b.service.Get(ctx, id)
}

func (b *NATSBinding) list(ctx context.Context, _ []byte) (any, error) {
	tasks, err := b.service.List(ctx)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	return tasks, nil
}

func (b *NATSBinding) update(ctx context.Context, data []byte) (any, error) {
	var req UpdateRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", model.ErrInvalidInput)
	}
	return nil, b.service.Update(ctx, req.ID, req.TaskPatch)
}

func (b *NATSBinding) delete(ctx context.Context, data []byte) (any, error) {
	id, err := decodeID(data)
	if err != nil {
		return nil, err
	}
	return nil, b.service.Delete(ctx, id)
}

func (b *NATSBinding) setEnabled(ctx context.Context, data []byte) (any, error) {
	var req SetEnabledRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", model.ErrInvalidInput)
	}
	return nil, b.service.SetEnabled(ctx, req.ID, req.Enabled)
}

func (b *NATSBinding) executeNow(ctx context.Context, data []byte) (any, error) {
	id, err := decodeID(data)
	if err != nil {
		return nil, err
	}
	return b.service.ExecuteNow(ctx, id)
}

func (b *NATSBinding) listExecutions(ctx context.Context, data []byte) (any, error) {
	var req ListExecutionsRequest
	if err := decodeRequest(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", model.ErrInvalidInput)
	}
	execs, err := b.service.ListExecutions(ctx, req.ID, req.Limit)
	if err != nil {
		return nil, err
	}
	if execs == nil {
		execs = []*model.TaskExecution{}
	}
	return execs, nil
}
