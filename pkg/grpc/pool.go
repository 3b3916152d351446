package grpc

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// DefaultKeepalive 預設的 keepalive 參數
var DefaultKeepalive = keepalive.ClientParameters{
	Time:                10 * time.Second, // 若無活動，每 10 秒發送一次 Ping
	Timeout:             time.Second,      // 等待 Ping 回應的超時時間
	PermitWithoutStream: true,             // 沒有活躍的 Stream 也發送 Ping
}

// Pool 管理通往多個目標的 gRPC 客戶端連線。
// 執行緒安全，每個目標地址只會維護一個連線實例。
type Pool struct {
	conns        sync.Map // map[string]*grpc.ClientConn
	mu           sync.Mutex
	interceptors []grpc.UnaryClientInterceptor
	callOptions  []grpc.CallOption
	keepalive    keepalive.ClientParameters
}

// PoolOption 定義了 Pool 的配置選項函數
type PoolOption func(*Pool)

// WithInterceptor 加入全局的 UnaryClientInterceptor，依加入順序串接
// 用於統一處理 Logging, Metrics, 或 Auth Token 注入。
func WithInterceptor(interceptor grpc.UnaryClientInterceptor) PoolOption {
	return func(p *Pool) {
		p.interceptors = append(p.interceptors, interceptor)
	}
}

// WithCallOptions 所有連線的預設 CallOption (例如 grpc.CallContentSubtype)
func WithCallOptions(opts ...grpc.CallOption) PoolOption {
	return func(p *Pool) {
		p.callOptions = append(p.callOptions, opts...)
	}
}

// WithKeepalive 覆寫預設的 keepalive 參數
func WithKeepalive(params keepalive.ClientParameters) PoolOption {
	return func(p *Pool) {
		p.keepalive = params
	}
}

// NewPool 建立並回傳一個新的 gRPC 連線池。
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{keepalive: DefaultKeepalive}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetConnection 獲取現有的連線，或為指定目標建立新連線。
//
// 參數:
//
//	target: string - 目標伺服器地址 (e.g., "localhost:50051" 或 K8s DNS)
//	opts: ...grpc.DialOption - 可選的額外 gRPC 連線選項
//
// 回傳值:
//
//	*grpc.ClientConn: gRPC 客戶端連線物件
//	error: 若建立連線失敗則回傳錯誤
func (p *Pool) GetConnection(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	// 1. Fast path
	if conn, ok := p.load(target); ok {
		return conn, nil
	}

	// 2. Double-check locking
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.load(target); ok {
		return conn, nil
	}

	// 3. 建立新連線，內部服務預設不加密
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(p.keepalive),
	}
	if len(p.interceptors) > 0 {
		dialOpts = append(dialOpts, grpc.WithChainUnaryInterceptor(p.interceptors...))
	}
	if len(p.callOptions) > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(p.callOptions...))
	}
	dialOpts = append(dialOpts, opts...)

	// grpc.NewClient 是 lazy connection，第一次呼叫時才真正連線
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for target %s: %w", target, err)
	}

	p.conns.Store(target, conn)
	return conn, nil
}

// load 取得未關閉的連線，已 Shutdown 的連線會被移除
func (p *Pool) load(target string) (*grpc.ClientConn, bool) {
	v, ok := p.conns.Load(target)
	if !ok {
		return nil, false
	}
	conn := v.(*grpc.ClientConn)
	if conn.GetState() == connectivity.Shutdown {
		p.conns.Delete(target)
		return nil, false
	}
	return conn, true
}

// Close 關閉連線池中的所有連線，回傳第一個錯誤
func (p *Pool) Close() error {
	var firstErr error
	p.conns.Range(func(key, value any) bool {
		conn := value.(*grpc.ClientConn)
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.conns.Delete(key)
		return true
	})
	return firstErr
}
