package auth

import "github.com/hitoshi/mathviz/internal/model"

// Admit は識別済みユーザーが管理者であれば nil を返す。
// ローカル・OAuth発行トークンはroleクレーム、外部IdPの識別はAdminFlagで判定する。
// I/Oは行わない。
func Admit(identity *model.UserIdentity) error {
	if identity == nil {
		return model.NewUnauthenticatedError()
	}

	switch identity.Provider {
	case model.ProviderLocal, model.ProviderGoogle, model.ProviderKakao:
		if identity.Role == model.RoleAdmin {
			return nil
		}
	case model.ProviderExternal:
		if identity.AdminFlag {
			return nil
		}
	}
	return model.NewForbiddenError()
}
