package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// ServiceName gRPC 服務全名
const ServiceName = "wallet.ledger.v1.LedgerService"

// LedgerServiceServer 帳本服務的伺服器端介面
type LedgerServiceServer interface {
	OpenAccount(context.Context, *OpenAccountRequest) (*AccountResponse, error)
	Credit(context.Context, *MutationRequest) (*MutationResponse, error)
	Debit(context.Context, *MutationRequest) (*MutationResponse, error)
	Refund(context.Context, *MutationRequest) (*MutationResponse, error)
	HasSufficientBalance(context.Context, *HasSufficientBalanceRequest) (*HasSufficientBalanceResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
	GetTransactionHistory(context.Context, *GetTransactionHistoryRequest) (*domain.HistoryPage, error)
	GetStats(context.Context, *GetStatsRequest) (*domain.AccountStats, error)
	SearchAccounts(context.Context, *SearchAccountsRequest) (*SearchAccountsResponse, error)
	GetUsageAnalytics(context.Context, *AnalyticsRequest) (*domain.UsageAnalytics, error)
	GetPaymentUsage(context.Context, *AnalyticsRequest) (*domain.PaymentUsage, error)
	AdminFreeze(context.Context, *AdminFreezeRequest) (*AccountResponse, error)
	AdminUnfreeze(context.Context, *AdminUnfreezeRequest) (*AccountResponse, error)
	AdminCredit(context.Context, *AdminMutationRequest) (*MutationResponse, error)
	AdminDebit(context.Context, *AdminMutationRequest) (*MutationResponse, error)
	AdminRefund(context.Context, *AdminMutationRequest) (*MutationResponse, error)
	AdminAdjust(context.Context, *AdminAdjustRequest) (*MutationResponse, error)
	AdminSetLimits(context.Context, *AdminSetLimitsRequest) (*AccountResponse, error)
}

// ServiceDesc 手寫的服務描述，訊息以 JSON codec 編碼
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("OpenAccount", LedgerServiceServer.OpenAccount),
		unary("Credit", LedgerServiceServer.Credit),
		unary("Debit", LedgerServiceServer.Debit),
		unary("Refund", LedgerServiceServer.Refund),
		unary("HasSufficientBalance", LedgerServiceServer.HasSufficientBalance),
		unary("GetBalance", LedgerServiceServer.GetBalance),
		unary("GetTransactionHistory", LedgerServiceServer.GetTransactionHistory),
		unary("GetStats", LedgerServiceServer.GetStats),
		unary("SearchAccounts", LedgerServiceServer.SearchAccounts),
		unary("GetUsageAnalytics", LedgerServiceServer.GetUsageAnalytics),
		unary("GetPaymentUsage", LedgerServiceServer.GetPaymentUsage),
		unary("AdminFreeze", LedgerServiceServer.AdminFreeze),
		unary("AdminUnfreeze", LedgerServiceServer.AdminUnfreeze),
		unary("AdminCredit", LedgerServiceServer.AdminCredit),
		unary("AdminDebit", LedgerServiceServer.AdminDebit),
		unary("AdminRefund", LedgerServiceServer.AdminRefund),
		unary("AdminAdjust", LedgerServiceServer.AdminAdjust),
		unary("AdminSetLimits", LedgerServiceServer.AdminSetLimits),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wallet/ledger/v1/ledger.json",
}

// RegisterLedgerServiceServer 註冊服務
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod 回傳 "/wallet.ledger.v1.LedgerService/<method>"
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](name string, call func(LedgerServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
