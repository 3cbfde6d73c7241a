package model

import (
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator はストア境界で使う共有のvalidatorを返す。
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// NaN/Infはpqで保存できないため境界で弾く
		_ = validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			if fl.Field().Kind() != reflect.Float64 && fl.Field().Kind() != reflect.Float32 {
				return false
			}
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0)
		})
	})
	return validate
}

// ValidateGame はストアから読み出した行の形を検証する。
// 年や評価の範囲はチェックしない。
func ValidateGame(g Game) error {
	if err := Validator().Struct(g); err != nil {
		return fmt.Errorf("invalid game record %d: %w", g.ID, err)
	}
	return nil
}

// ValidateGameInput はストアに書き込むペイロードの形を検証する。
func ValidateGameInput(in GameInput) error {
	if err := Validator().Struct(in); err != nil {
		return fmt.Errorf("invalid game payload: %w", err)
	}
	return nil
}
