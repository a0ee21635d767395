package api

import (
	"errors"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerValidatorsOnce sync.Once

// RegisterValidators 向 gin 的校验引擎注册自定义规则。
func RegisterValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("digits", validateDigits)
	})
}

// validateDigits 只接受 0-9。
func validateDigits(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// bindErrorMessage 把校验错误转成面向用户的提示。
func bindErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "digits":
			msgs = append(msgs, field+": Only Numbers")
		case "required":
			msgs = append(msgs, field+": this field is required")
		case "max":
			msgs = append(msgs, field+": must be at most "+fe.Param()+" characters")
		case "len":
			msgs = append(msgs, field+": must be exactly "+fe.Param()+" characters")
		case "email":
			msgs = append(msgs, field+": enter a valid email address")
		case "oneof":
			msgs = append(msgs, field+": must be one of "+fe.Param())
		default:
			msgs = append(msgs, field+": invalid value")
		}
	}
	return strings.Join(msgs, "; ")
}
