package main

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Creationsss/profilePage/internal"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	configurationLocation := flag.String("configuration", "profilepage.yaml", "Location of the configuration file")
	prometheusAddress := flag.String("prometheusAddress", "", "Overrides the prometheus address in the configuration")
	httpHost := flag.String("host", "", "Overrides the http host in the configuration")
	loggingLocation := flag.String("log", "logs/profilepage.log", "Location of the log file")
	level := flag.String("level", "info", "Logging level")

	flag.Parse()

	_ = godotenv.Load()

	logLevel, err := zerolog.ParseLevel(*level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.Stamp,
	}

	var writer io.Writer = consoleWriter

	if *loggingLocation != "" {
		writer = zerolog.MultiLevelWriter(consoleWriter, &lumberjack.Logger{
			Filename:   *loggingLocation,
			MaxSize:    25,
			MaxBackups: 5,
			MaxAge:     7,
			Compress:   true,
		})
	}

	page, err := internal.NewProfilePage(writer, internal.ProfilePageOptions{
		ConfigurationLocation: *configurationLocation,
		PrometheusAddress:     *prometheusAddress,
		HTTPHost:              *httpHost,
	})
	if err != nil {
		println(err.Error())
		os.Exit(1)
	}

	page.Open()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	if err = page.Close(); err != nil {
		page.Logger.Error().Err(err).Msg("Exception whilst closing profilePage")
	}
}
