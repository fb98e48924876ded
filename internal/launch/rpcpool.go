package launch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// RPCPool раздает RPC-клиентов по кругу и переходит к следующему узлу,
// если текущий вернул ошибку.
type RPCPool struct {
	clients   []AccountGetter
	endpoints []string
	mutex     sync.Mutex
	index     int
	logger    *zap.Logger
}

// NewRPCPool создает пул из списка эндпоинтов.
func NewRPCPool(endpoints []string, logger *zap.Logger) (*RPCPool, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("empty RPC list")
	}

	clients := make([]AccountGetter, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return nil, fmt.Errorf("invalid RPC URL %q: %w", endpoint, err)
		}
		clients = append(clients, rpc.New(endpoint))
	}
	return newPool(endpoints, clients, logger), nil
}

func newPool(endpoints []string, clients []AccountGetter, logger *zap.Logger) *RPCPool {
	return &RPCPool{
		clients:   clients,
		endpoints: endpoints,
		logger:    logger.Named("rpc_pool"),
	}
}

// next возвращает следующий клиент (круговой цикл).
func (p *RPCPool) next() (int, AccountGetter) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	i := p.index
	p.index = (p.index + 1) % len(p.clients)
	return i, p.clients[i]
}

// GetAccountInfo implements AccountGetter, trying each endpoint at most once.
func (p *RPCPool) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	var errs []error
	for range p.clients {
		i, client := p.next()
		res, err := client.GetAccountInfo(ctx, account)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("RPC request failed, trying next endpoint",
			zap.String("endpoint", p.endpoints[i]), zap.Error(err))
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("all RPC endpoints failed: %w", errors.Join(errs...))
}
