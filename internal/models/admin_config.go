package models

import "time"

// AdminConfig is the single row of runtime settings editable by admins.
type AdminConfig struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	LLMModelName    string    `gorm:"column:llm_model_name;size:250;not null" json:"llm_model_name"`
	LLMTemperature  float64   `gorm:"column:llm_temperature;not null" json:"llm_temperature"`
	LLMStreaming    bool      `gorm:"column:llm_streaming;not null" json:"llm_streaming"`
	LLMPrompt       string    `gorm:"column:llm_prompt;type:text" json:"llm_prompt"`
	LLMRole         string    `gorm:"column:llm_role;size:100;not null" json:"llm_role"`
	GreetingMessage string    `gorm:"column:greeting_message;size:250;not null" json:"greeting_message"`
	Disclaimers     string    `gorm:"column:disclaimers;size:500;not null" json:"disclaimers"`
	GDriveEnabled   bool      `gorm:"column:gdrive_enabled;not null;default:false" json:"gdrive_enabled"`
	LogoLink        string    `gorm:"column:logo_link;size:250;not null" json:"logo_link"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (AdminConfig) TableName() string { return "admin_config" }

// DefaultAdminConfig is seeded when the table is empty or unreadable.
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		LLMModelName:    "gpt-4-turbo-preview",
		LLMTemperature:  0.4,
		LLMStreaming:    true,
		LLMPrompt:       "",
		LLMRole:         "helpful assistant",
		GreetingMessage: "Hi! I am Caira.",
		Disclaimers:     "Put your disclaimers",
		GDriveEnabled:   false,
		LogoLink:        "logo_link",
	}
}

// AdminConfigPatch is a partial update; nil fields are left unchanged.
type AdminConfigPatch struct {
	LLMModelName    *string  `json:"llm_model_name"`
	LLMTemperature  *float64 `json:"llm_temperature"`
	LLMStreaming    *bool    `json:"llm_streaming"`
	LLMPrompt       *string  `json:"llm_prompt"`
	LLMRole         *string  `json:"llm_role"`
	GreetingMessage *string  `json:"greeting_message"`
	Disclaimers     *string  `json:"disclaimers"`
	GDriveEnabled   *bool    `json:"gdrive_enabled"`
	LogoLink        *string  `json:"logo_link"`
}

// Apply copies the set fields onto cfg and returns how many were set.
func (p AdminConfigPatch) Apply(cfg *AdminConfig) int {
	n := 0
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
			n++
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
			n++
		}
	}
	setString(&cfg.LLMModelName, p.LLMModelName)
	if p.LLMTemperature != nil {
		cfg.LLMTemperature = *p.LLMTemperature
		n++
	}
	setBool(&cfg.LLMStreaming, p.LLMStreaming)
	setString(&cfg.LLMPrompt, p.LLMPrompt)
	setString(&cfg.LLMRole, p.LLMRole)
	setString(&cfg.GreetingMessage, p.GreetingMessage)
	setString(&cfg.Disclaimers, p.Disclaimers)
	setBool(&cfg.GDriveEnabled, p.GDriveEnabled)
	setString(&cfg.LogoLink, p.LogoLink)
	return n
}
