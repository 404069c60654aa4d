package chat

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/darasahq/darasa/core"
)

var (
	kindTag  = "conversationkind"
	kindText = "kind must be one of: direct, group"

	emptyMessageTag  = "contentorattachment"
	emptyMessageText = "one of content or attachment is required"
)

// InitValidators registers the chat validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(kindTag, kindValidation)
	core.RegisterCustomTranslation(validate, translator, kindTag, kindText)

	validate.RegisterStructValidation(newMessageStructValidation, NewMessage{})
	core.RegisterCustomTranslation(validate, translator, emptyMessageTag, emptyMessageText)
}

// Custom Validators

// kindValidation checks that the conversation kind is a known one.
func kindValidation(fl validator.FieldLevel) bool {
	switch Kind(fl.Field().String()) {
	case KindDirect, KindGroup:
		return true
	}
	return false
}

// newMessageStructValidation rejects messages with neither content nor attachment.
func newMessageStructValidation(sl validator.StructLevel) {
	if nm, ok := sl.Current().Interface().(NewMessage); ok {
		if nm.Content == "" && nm.Attachment.IsZero() {
			sl.ReportError(nm.Content, "content", "Content", emptyMessageTag, "")
		}
	}
}
