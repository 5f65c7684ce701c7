package main

import (
	"context"
	"flag"
	"log/syslog"
	"os"
	"os/signal"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/kontoapp/konto/config"
	"github.com/kontoapp/konto/mailer"
	"github.com/kontoapp/konto/pgdb"
	"github.com/kontoapp/konto/rest"
	"github.com/kontoapp/konto/token"
	"github.com/kontoapp/konto/user"
	"github.com/sirupsen/logrus"
	logrusys "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/tidwall/buntdb"
	"github.com/uptrace/bun"
	_ "github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

const appName = "Konto"

func listenAndServe(
	ctx context.Context,
	bdb *buntdb.DB,
	db *bun.DB,
	jwtSecret []byte,
	appBaseUrl string,
	debug bool,
) func() error {
	userStore := &user.Store{DB: db}
	activityStore := &user.PgActivityStore{DB: db}

	tokenController := token.Controller{
		Issuer:    token.NewIssuer(jwtSecret, bdb),
		UserStore: userStore,
		Activity:  activityStore,
	}
	userController := user.Controller{
		Store:     userStore,
		Activity:  activityStore,
		Mailer:    mailer.Log{BaseUrl: appBaseUrl},
		Limits:    config.DefaultLimits,
		Authorize: tokenController.Authorize,
	}
	configController := config.Controller{
		AppName: appName,
		Limits:  config.DefaultLimits,
	}

	server := fiber.New()
	server.Use(logHandler())

	api := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorHandler: rest.ErrorHandler,
	})

	allowOrigins := appBaseUrl
	if debug {
		allowOrigins += ", http://localhost:3000"
	}
	api.Use(cors.New(cors.Config{AllowOrigins: allowOrigins}))

	tokenController.InstallTo(api)
	userController.InstallTo(api)
	configController.InstallTo(api)
	server.Mount("/api/v1/", api)

	server.Static("/", "./www/", fiber.Static{
		Browse: false,
		Index:  "index.html",
	})

	server.Use(rest.NotFoundHandler)

	var addr string
	if debug {
		addr = "127.0.0.1:2137"
	} else {
		addr = ":2137"
	}
	go server.Listen(addr)

	return func() error {
		return server.Shutdown()
	}
}

func setupLogger(verbose bool) {
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.Stamp,
		FullTimestamp:   true,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	syslogHook, err := logrusys.NewSyslogHook("", "", syslog.LOG_USER, "konto_backend")
	if err != nil {
		logrus.WithError(err).Fatalln("Could not create syslog hook.")
		return
	}
	logrus.AddHook(syslogHook)
}

func logHandler() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		rest.RequestLog(ctx).Infoln("Handling request.")
		return ctx.Next()
	}
}

func requireEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		logrus.Fatalln(key + " not set!")
	}
	return value
}

func awaitInterruption() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
}

func main() {
	flag.Parse()
	debug := os.Getenv("DEBUG") == "true"
	setupLogger(debug)
	logrus.Infoln("Starting backend.")

	pgDsn := requireEnv("POSTGRES_DSN")
	jwtSecret := requireEnv("JWT_SECRET")
	appBaseUrl := os.Getenv("APP_BASE_URL")
	if appBaseUrl == "" {
		appBaseUrl = "https://konto.app"
	}

	bdb, err := buntdb.Open("kv.db")
	if err != nil {
		logrus.WithError(err).Fatalln("Could not open buntdb.")
	}
	defer bdb.Close()

	logrus.Infoln("Opening database.")
	db := pgdb.Open(context.Background(), pgDsn)
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	defer db.DB.Close()
	defer db.Close()

	logrus.Infoln("Starting listening... To shut down use ^C")
	shutdown := listenAndServe(context.Background(), bdb, db, []byte(jwtSecret), appBaseUrl, debug)

	awaitInterruption()

	logrus.Infoln("Shutting down...")
	err = shutdown()
	if err != nil {
		logrus.WithError(err).Warningln("Fiber shutdown failed.")
	}
	logrus.Exit(0)
}
