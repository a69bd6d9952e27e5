package dll

type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid DLL configuration: " + e.Field + " " + e.Reason
}
