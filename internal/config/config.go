package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string

	AWSRegion         string
	SQSEventQueueURL  string // Queue nhận telemetry từ AWS IoT rule
	SQSNotifyQueueURL string // Queue đẩy notification reservation
	IoTMQTTEndpoint   string

	JWTSecret          string        // Secret key cho JWT
	JWTExpirationHours time.Duration // Thời gian hết hạn của JWT

	ReservationTTLMinutes int           // TTL mặc định khi client không gửi expires_in_minutes
	SweepInterval         time.Duration // Chu kỳ quét reservation quá hạn
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Cảnh báo: Không thể tải file .env: %v", err)
	}

	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	jwtExpHours, _ := strconv.Atoi(getEnv("JWT_EXPIRATION_HOURS", "24"))
	reservationTTL, _ := strconv.Atoi(getEnv("RESERVATION_TTL_MINUTES", "15"))
	sweepSeconds, _ := strconv.Atoi(getEnv("SWEEP_INTERVAL_SECONDS", "30"))

	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "youruser"),
		DBPassword: getEnv("DB_PASSWORD", "yourpassword"),
		DBName:     getEnv("DB_NAME", "parking_reserve_db"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		AWSRegion:         getEnv("AWS_REGION", "ap-southeast-1"),
		SQSEventQueueURL:  getEnv("SQS_EVENT_QUEUE_URL", ""),
		SQSNotifyQueueURL: getEnv("SQS_NOTIFY_QUEUE_URL", ""),
		IoTMQTTEndpoint:   getEnv("IOT_MQTT_ENDPOINT", ""),

		JWTSecret:          getEnv("JWT_SECRET", "your-very-secret-key-for-jwt-!@#$"),
		JWTExpirationHours: time.Duration(jwtExpHours) * time.Hour,

		ReservationTTLMinutes: reservationTTL,
		SweepInterval:         time.Duration(sweepSeconds) * time.Second,
	}
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Biến môi trường '%s' không được đặt, sử dụng giá trị mặc định: '%s'", key, fallback)
	return fallback
}
