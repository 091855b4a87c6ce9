package models

// All lists every persisted model in dependency order for migrations.
func All() []interface{} {
	return []interface{}{
		&Setting{},
		&Exchange{},
		&Position{},
		&Order{},
		&Trade{},
		&VoiceCommand{},
		&CommandKeyword{},
		&LicenseInfo{},
		&DailyStat{},
		&SystemLog{},
	}
}
