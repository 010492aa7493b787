package config

var AppVersion = "DEVELOPMENT"

const (
	AppName = "usbevents"
	LogFile = "usbevents.log"
	CfgFile = "config.toml"
)
