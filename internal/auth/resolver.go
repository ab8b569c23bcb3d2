// Package auth はリクエストの識別解決、ローカルアカウント、管理者判定を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/mathviz/internal/model"
)

// Verdict は解決ステップの判定結果。
type Verdict int

const (
	// VerdictNotApplicable はこのステップでは判定できないことを示す。次のステップへ進む。
	VerdictNotApplicable Verdict = iota
	// VerdictValid は識別に成功したことを示す。
	VerdictValid
	// VerdictRejected は資格情報を拒否したことを示す。後続ステップは実行しない。
	VerdictRejected
)

// String はメトリクスのラベルに使う文字列を返す。
func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictRejected:
		return "rejected"
	default:
		return "not_applicable"
	}
}

// StepResult は解決ステップの結果。
// VerdictValidの場合のみIdentityが設定される。
type StepResult struct {
	Verdict  Verdict
	Identity *model.UserIdentity
	Err      error // 拒否理由（ログ用）
}

// Step は識別解決チェーンの1ステップ。
type Step interface {
	// Name はログとメトリクスに使うステップ名を返す。
	Name() string
	// Resolve は資格情報を判定する。
	Resolve(ctx context.Context, credential string) StepResult
}

// ResolutionRecorder は識別解決の結果を記録する。
type ResolutionRecorder interface {
	RecordResolution(step, verdict string)
}

// Resolver はBearer資格情報から呼び出し元を識別する。
// ステップを順に実行し、NotApplicableの場合のみ次へ進む。
type Resolver struct {
	steps    []Step
	recorder ResolutionRecorder
}

// NewResolver はResolverを生成する。recorderにnilを渡すと記録しない。
func NewResolver(recorder ResolutionRecorder, steps ...Step) *Resolver {
	return &Resolver{
		steps:    steps,
		recorder: recorder,
	}
}

// Resolve は資格情報を解決してUserIdentityを返す。
// 資格情報が空、拒否された、またはどのステップも判定できない場合はUnauthenticatedを返す。
func (r *Resolver) Resolve(ctx context.Context, credential string) (*model.UserIdentity, error) {
	if credential == "" {
		r.record("none", VerdictNotApplicable)
		return nil, model.NewUnauthenticatedError()
	}

	for _, step := range r.steps {
		res := step.Resolve(ctx, credential)
		r.record(step.Name(), res.Verdict)

		switch res.Verdict {
		case VerdictValid:
			return res.Identity, nil
		case VerdictRejected:
			attrs := []any{slog.String("step", step.Name())}
			if res.Err != nil {
				attrs = append(attrs, slog.String("reason", res.Err.Error()))
			}
			slog.Debug("credential rejected", attrs...)
			return nil, model.NewUnauthenticatedError()
		}
	}

	return nil, model.NewUnauthenticatedError()
}

// ResolveOptional はResolveと同様だが、Unauthenticatedの場合はnilを返す。
// それ以外のエラーはそのまま返す。
func (r *Resolver) ResolveOptional(ctx context.Context, credential string) (*model.UserIdentity, error) {
	identity, err := r.Resolve(ctx, credential)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUnauthenticated {
			return nil, nil
		}
		return nil, err
	}
	return identity, nil
}

func (r *Resolver) record(step string, v Verdict) {
	if r.recorder != nil {
		r.recorder.RecordResolution(step, v.String())
	}
}
