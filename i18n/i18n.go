// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package i18n

import (
	"embed"
	"encoding/json"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed translations/active.*.json
var translations embed.FS

type Bundle struct {
	bundle *i18n.Bundle
}

// Init loads the embedded translation files. Missing or malformed files for
// non-default locales are skipped so a broken translation never prevents
// startup.
func Init() *Bundle {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := translations.ReadDir("translations")
	if err != nil {
		return &Bundle{bundle: bundle}
	}
	for _, entry := range entries {
		_, _ = bundle.LoadMessageFileFS(translations, "translations/"+entry.Name())
	}

	return &Bundle{bundle: bundle}
}

// LocalizerFunc returns a translation function for the given locale. The
// default message is used when no translation exists.
func LocalizerFunc(b *Bundle, locale string) func(id string, defaultMessage string, templateData ...any) string {
	localizer := i18n.NewLocalizer(b.bundle, locale)
	return func(id string, defaultMessage string, templateData ...any) string {
		cfg := &i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    id,
				Other: defaultMessage,
			},
		}
		if len(templateData) > 0 {
			cfg.TemplateData = templateData[0]
		}

		translated, err := localizer.Localize(cfg)
		if err != nil {
			return defaultMessage
		}
		return translated
	}
}
