package api

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds custom tags to gin's binding engine.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("solana_pubkey", validateSolanaPubkey)
	}
}

func validateSolanaPubkey(fl validator.FieldLevel) bool {
	pk, err := solana.PublicKeyFromBase58(fl.Field().String())
	return err == nil && !pk.IsZero()
}
