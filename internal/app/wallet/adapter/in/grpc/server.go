package grpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
)

// GrpcServer 帳本服務的 gRPC 入口，只負責參數轉換與錯誤對應
type GrpcServer struct {
	engine *usecase.Engine
	query  *usecase.QueryService
	admin  *usecase.AdminControl
}

func NewGrpcServer(engine *usecase.Engine, query *usecase.QueryService, admin *usecase.AdminControl) *GrpcServer {
	return &GrpcServer{
		engine: engine,
		query:  query,
		admin:  admin,
	}
}

func (s *GrpcServer) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*AccountResponse, error) {
	acc, err := s.engine.OpenAccount(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: acc}, nil
}

func (s *GrpcServer) Credit(ctx context.Context, req *MutationRequest) (*MutationResponse, error) {
	return s.mutate(ctx, req, s.engine.Credit)
}

func (s *GrpcServer) Debit(ctx context.Context, req *MutationRequest) (*MutationResponse, error) {
	return s.mutate(ctx, req, s.engine.Debit)
}

func (s *GrpcServer) Refund(ctx context.Context, req *MutationRequest) (*MutationResponse, error) {
	return s.mutate(ctx, req, s.engine.Refund)
}

func (s *GrpcServer) mutate(ctx context.Context, req *MutationRequest,
	fn func(context.Context, uuid.UUID, usecase.MutationRequest) (*usecase.MutationResult, error),
) (*MutationResponse, error) {
	// 1. 解析帳戶 (user_id 第一次使用時開戶)
	id, err := s.resolve(ctx, req.AccountRef, true)
	if err != nil {
		return nil, err
	}

	// 2. 執行異動
	res, err := fn(ctx, id, req.toUsecase())
	if err != nil {
		return nil, toStatus(err)
	}
	return newMutationResponse(res), nil
}

func (s *GrpcServer) HasSufficientBalance(ctx context.Context, req *HasSufficientBalanceRequest) (*HasSufficientBalanceResponse, error) {
	id, err := s.resolve(ctx, req.AccountRef, true)
	if err != nil {
		return nil, err
	}
	ok, err := s.engine.HasSufficientBalance(ctx, id, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &HasSufficientBalanceResponse{Sufficient: ok}, nil
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	id, err := s.resolve(ctx, req.AccountRef, true)
	if err != nil {
		return nil, err
	}
	balance, err := s.query.GetBalance(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetBalanceResponse{AccountID: id.String(), Balance: balance}, nil
}

func (s *GrpcServer) GetTransactionHistory(ctx context.Context, req *GetTransactionHistoryRequest) (*domain.HistoryPage, error) {
	id, err := s.resolve(ctx, req.AccountRef, true)
	if err != nil {
		return nil, err
	}
	page, err := s.query.GetTransactionHistory(ctx, id, req.Page, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return page, nil
}

func (s *GrpcServer) GetStats(ctx context.Context, req *GetStatsRequest) (*domain.AccountStats, error) {
	id, err := s.resolve(ctx, req.AccountRef, true)
	if err != nil {
		return nil, err
	}
	stats, err := s.query.GetStats(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return stats, nil
}

func (s *GrpcServer) SearchAccounts(ctx context.Context, req *SearchAccountsRequest) (*SearchAccountsResponse, error) {
	results, err := s.query.SearchAccounts(ctx, req.Term)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SearchAccountsResponse{Results: results}, nil
}

func (s *GrpcServer) GetUsageAnalytics(ctx context.Context, req *AnalyticsRequest) (*domain.UsageAnalytics, error) {
	out, err := s.query.GetUsageAnalytics(ctx, req.toUsecase())
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

func (s *GrpcServer) GetPaymentUsage(ctx context.Context, req *AnalyticsRequest) (*domain.PaymentUsage, error) {
	out, err := s.query.GetPaymentUsage(ctx, req.toUsecase())
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

func (s *GrpcServer) AdminFreeze(ctx context.Context, req *AdminFreezeRequest) (*AccountResponse, error) {
	id, err := s.resolve(ctx, req.AccountRef, false)
	if err != nil {
		return nil, err
	}
	acc, err := s.admin.Freeze(ctx, req.ActorID, id, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: acc}, nil
}

func (s *GrpcServer) AdminUnfreeze(ctx context.Context, req *AdminUnfreezeRequest) (*AccountResponse, error) {
	id, err := s.resolve(ctx, req.AccountRef, false)
	if err != nil {
		return nil, err
	}
	acc, err := s.admin.Unfreeze(ctx, req.ActorID, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: acc}, nil
}

func (s *GrpcServer) AdminCredit(ctx context.Context, req *AdminMutationRequest) (*MutationResponse, error) {
	return s.adminMutate(ctx, req, s.admin.Credit)
}

func (s *GrpcServer) AdminDebit(ctx context.Context, req *AdminMutationRequest) (*MutationResponse, error) {
	return s.adminMutate(ctx, req, s.admin.Debit)
}

func (s *GrpcServer) AdminRefund(ctx context.Context, req *AdminMutationRequest) (*MutationResponse, error) {
	return s.adminMutate(ctx, req, s.admin.Refund)
}

func (s *GrpcServer) adminMutate(ctx context.Context, req *AdminMutationRequest,
	fn func(context.Context, string, uuid.UUID, usecase.MutationRequest) (*usecase.MutationResult, error),
) (*MutationResponse, error) {
	id, err := s.resolve(ctx, req.AccountRef, false)
	if err != nil {
		return nil, err
	}
	res, err := fn(ctx, req.ActorID, id, req.toUsecase())
	if err != nil {
		return nil, toStatus(err)
	}
	return newMutationResponse(res), nil
}

func (s *GrpcServer) AdminAdjust(ctx context.Context, req *AdminAdjustRequest) (*MutationResponse, error) {
	id, err := s.resolve(ctx, req.AccountRef, false)
	if err != nil {
		return nil, err
	}
	res, err := s.admin.Adjust(ctx, req.ActorID, id, usecase.AdjustRequest{
		Type:     req.Type,
		Amount:   req.Amount,
		Reason:   req.Reason,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return newMutationResponse(res), nil
}

func (s *GrpcServer) AdminSetLimits(ctx context.Context, req *AdminSetLimitsRequest) (*AccountResponse, error) {
	id, err := s.resolve(ctx, req.AccountRef, false)
	if err != nil {
		return nil, err
	}
	acc, err := s.admin.SetLimits(ctx, req.ActorID, id, domain.Limits{
		MinBalance: req.MinBalance,
		MaxBalance: req.MaxBalance,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: acc}, nil
}

// resolve 取得帳戶 ID
// open 為 true 時 user_id 沒有帳戶會自動開戶 (使用者操作)，管理操作只查詢
func (s *GrpcServer) resolve(ctx context.Context, ref AccountRef, open bool) (uuid.UUID, error) {
	if ref.AccountID != "" {
		id, err := uuid.Parse(ref.AccountID)
		if err != nil {
			return uuid.Nil, status.Error(codes.InvalidArgument, "invalid account_id: "+err.Error())
		}
		return id, nil
	}
	if ref.UserID == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "account_id or user_id is required")
	}

	var (
		acc *domain.Account
		err error
	)
	if open {
		acc, err = s.engine.OpenAccount(ctx, ref.UserID)
	} else {
		acc, err = s.engine.AccountForUser(ctx, ref.UserID)
	}
	if err != nil {
		return uuid.Nil, toStatus(err)
	}
	return acc.ID, nil
}

func (r *MutationRequest) toUsecase() usecase.MutationRequest {
	return usecase.MutationRequest{
		Amount:        r.Amount,
		Description:   r.Description,
		Reference:     r.Reference,
		ReferenceType: r.ReferenceType,
		Metadata:      r.Metadata,
	}
}

func (r *AnalyticsRequest) toUsecase() usecase.AnalyticsFilter {
	return usecase.AnalyticsFilter{From: r.From, To: r.To}
}

func newMutationResponse(res *usecase.MutationResult) *MutationResponse {
	return &MutationResponse{Transaction: res.Transaction, Account: res.Account}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
