package conf

import (
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
)

type config struct {
	// HTTP server
	ListenPort  string
	VerifyToken string

	// WhatsApp Cloud API
	WhatsAppToken         string
	WhatsAppPhoneNumberID string

	// sms-activate handler API
	SMSActivateAPIKey string
	SMSCountry        int

	// Gmail payment monitoring
	PaymentEmailSender   string
	GmailCredentialsPath string
	GmailTokenPath       string
	EmailCheckInterval   time.Duration

	// Purchase flow
	CatalogPath    string
	ExpectedAmount string
	BankAccount    string

	// Receipt storage, optional
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
}

var Config config

func Init() {
	initFromEnv()
}

func initFromEnv() {
	Config.ListenPort = getEnvOrDefault("LISTEN_PORT", "3000")
	Config.VerifyToken = getEnvOrDefault("WEBHOOK_VERIFY_TOKEN", "zuswhats")
	Config.WhatsAppToken = os.Getenv("WHATSAPP_TOKEN")
	Config.WhatsAppPhoneNumberID = os.Getenv("WHATSAPP_PHONE_NUMBER_ID")
	Config.SMSActivateAPIKey = os.Getenv("SMS_ACTIVATE_API_KEY")
	Config.SMSCountry = getEnvOrDefaultInt("SMS_COUNTRY", 7)
	Config.PaymentEmailSender = getEnvOrDefault("PAYMENT_EMAIL_SENDER", "alerts@payments.example")
	Config.GmailCredentialsPath = getEnvOrDefault("GMAIL_CREDENTIALS_PATH", "credentials.json")
	Config.GmailTokenPath = getEnvOrDefault("GMAIL_TOKEN_PATH", "token.json")
	Config.EmailCheckInterval = time.Duration(getEnvOrDefaultInt("EMAIL_CHECK_INTERVAL_SECONDS", 10)) * time.Second
	Config.CatalogPath = os.Getenv("CATALOG_PATH")
	Config.ExpectedAmount = getEnvOrDefault("EXPECTED_AMOUNT", "1.68")
	Config.BankAccount = getEnvOrDefault("BANK_ACCOUNT", "Maybank 1234 5678 9012 (ZUS OTP SERVICE)")
	Config.RedisHost = os.Getenv("REDIS_HOST")
	Config.RedisPort = getEnvOrDefault("REDIS_PORT", "6379")
	Config.RedisPassword = os.Getenv("REDIS_PASSWORD")
	Config.RedisDB = getEnvOrDefaultInt("REDIS_DB", 0)

	glog.Infof("Config.ListenPort:%s", Config.ListenPort)
	glog.Infof("Config.SMSCountry:%d", Config.SMSCountry)
	glog.Infof("Config.PaymentEmailSender:%s", Config.PaymentEmailSender)
	glog.Infof("Config.EmailCheckInterval:%s", Config.EmailCheckInterval)
	glog.Infof("Config.ExpectedAmount:%s", Config.ExpectedAmount)
	glog.Infof("Config.WhatsAppToken set:%t", Config.WhatsAppToken != "")
	glog.Infof("Config.SMSActivateAPIKey set:%t", Config.SMSActivateAPIKey != "")
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvOrDefaultInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		glog.Warningf("invalid %s value %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
