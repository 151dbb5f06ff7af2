package validator

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func Init() {
	validate = validator.New()
	registerCustomValidations(validate)

	if engine, ok := binding.Validator.Engine().(*validator.Validate); ok {
		registerCustomValidations(engine)
	}
}

func registerCustomValidations(v *validator.Validate) {
	v.RegisterValidation("username", validateUsername)
	v.RegisterValidation("restore_strategy", validateRestoreStrategy)
	v.RegisterValidation("time_of_day", validateTimeOfDay)
}

func Validate(s interface{}) error {
	return validate.Struct(s)
}

func validateUsername(fl validator.FieldLevel) bool {
	username := fl.Field().String()
	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_]+$`, username)
	return matched && len(username) >= 3 && len(username) <= 30
}

func validateRestoreStrategy(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "merge", "replace", "skip":
		return true
	}
	return false
}

func validateTimeOfDay(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "morning", "afternoon", "evening", "night":
		return true
	}
	return false
}
