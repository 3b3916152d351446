package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// Client 帳本服務的強型別客戶端，所有呼叫使用 JSON codec
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OpenAccount(ctx context.Context, in *OpenAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c.cc, "OpenAccount", in, opts)
}

func (c *Client) Credit(ctx context.Context, in *MutationRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, c.cc, "Credit", in, opts)
}

func (c *Client) Debit(ctx context.Context, in *MutationRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, c.cc, "Debit", in, opts)
}

func (c *Client) Refund(ctx context.Context, in *MutationRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, c.cc, "Refund", in, opts)
}

func (c *Client) HasSufficientBalance(ctx context.Context, in *HasSufficientBalanceRequest, opts ...grpc.CallOption) (*HasSufficientBalanceResponse, error) {
	return invoke[HasSufficientBalanceResponse](ctx, c.cc, "HasSufficientBalance", in, opts)
}

func (c *Client) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*GetBalanceResponse, error) {
	return invoke[GetBalanceResponse](ctx, c.cc, "GetBalance", in, opts)
}

func (c *Client) GetTransactionHistory(ctx context.Context, in *GetTransactionHistoryRequest, opts ...grpc.CallOption) (*domain.HistoryPage, error) {
	return invoke[domain.HistoryPage](ctx, c.cc, "GetTransactionHistory", in, opts)
}

func (c *Client) GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*domain.AccountStats, error) {
	return invoke[domain.AccountStats](ctx, c.cc, "GetStats", in, opts)
}

func (c *Client) SearchAccounts(ctx context.Context, in *SearchAccountsRequest, opts ...grpc.CallOption) (*SearchAccountsResponse, error) {
	return invoke[SearchAccountsResponse](ctx, c.cc, "SearchAccounts", in, opts)
}

func (c *Client) GetUsageAnalytics(ctx context.Context, in *AnalyticsRequest, opts ...grpc.CallOption) (*domain.UsageAnalytics, error) {
	return invoke[domain.UsageAnalytics](ctx, c.cc, "GetUsageAnalytics", in, opts)
}

func (c *Client) GetPaymentUsage(ctx context.Context, in *AnalyticsRequest, opts ...grpc.CallOption) (*domain.PaymentUsage, error) {
	return invoke[domain.PaymentUsage](ctx, c.cc, "GetPaymentUsage", in, opts)
}

func (c *Client) AdminFreeze(ctx context.Context, in *AdminFreezeRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c.cc, "AdminFreeze", in, opts)
}

func (c *Client) AdminUnfreeze(ctx context.Context, in *AdminUnfreezeRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c.cc, "AdminUnfreeze", in, opts)
}

func (c *Client) AdminCredit(ctx context.Context, in *AdminMutationRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, c.cc, "AdminCredit", in, opts)
}

func (c *Client) AdminDebit(ctx context.Context, in *AdminMutationRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, c.cc, "AdminDebit", in, opts)
}

func (c *Client) AdminRefund(ctx context.Context, in *AdminMutationRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, c.cc, "AdminRefund", in, opts)
}

func (c *Client) AdminAdjust(ctx context.Context, in *AdminAdjustRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return invoke[MutationResponse](ctx, c.cc, "AdminAdjust", in, opts)
}

func (c *Client) AdminSetLimits(ctx context.Context, in *AdminSetLimitsRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountResponse](ctx, c.cc, "AdminSetLimits", in, opts)
}
