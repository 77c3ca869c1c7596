package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/tbxark/stepform"
	"github.com/tbxark/stepform/command"
	"github.com/tbxark/stepform/dialogue"
	"github.com/tbxark/stepform/inbox"
	"github.com/tbxark/stepform/onboarding"
	"github.com/tbxark/stepform/outbox"
	"github.com/tbxark/stepform/transcript"
)

const participant = "console"

func main() {
	conf := flag.String("config", "config.json", "path to config file")
	flag.Parse()
	config, err := loadConfig(*conf)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := startApp(ctx, config); err != nil {
		log.Fatalf("start app: %v", err)
	}
}

func startApp(ctx context.Context, config *Config) error {
	if config.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		slog.SetLogLoggerLevel(slog.LevelWarn)
	}

	var parser command.Parser = command.NewLocalParser()
	var gen dialogue.Generator = &dialogue.LocalGenerator{}
	if config.APIKey != "" {
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  config.APIKey,
			Model:   config.Model,
			BaseURL: config.BaseURL,
		})
		if err != nil {
			return err
		}
		toolParser, err := command.NewToolBasedParser(cm)
		if err != nil {
			return err
		}
		toolGen, err := dialogue.NewToolBasedGenerator(cm, dialogue.WithLang(config.Lang))
		if err != nil {
			return err
		}
		parser = command.NewFailbackParser(command.NewLocalParser(), toolParser)
		gen = dialogue.NewFailbackGenerator(toolGen, &dialogue.LocalGenerator{})
	}

	history := transcript.NewMemoryHistory(transcript.KeepLastN{N: config.HistoryLength})
	engine := stepform.NewEngine(
		stepform.WithDefaultTimeout(config.StepTimeout),
		stepform.WithDefaultRetryLimit(config.RetryLimit),
		stepform.WithCommandParser(parser),
		stepform.WithTranscript(history),
	)

	var mailer onboarding.Mailer = &onboarding.LogMailer{}
	if config.Mail.Enabled {
		mailer = &onboarding.SMTPMailer{
			Host:     config.Mail.Host,
			Port:     config.Mail.Port,
			Username: config.Mail.Username,
			Password: config.Mail.Password,
		}
	}

	flowConf := onboarding.DefaultConfig()
	flowConf.Brand = config.Brand
	flowConf.MailFrom = config.Mail.From
	flowConf.VerifyEmail = config.VerifyEmail

	hub := inbox.NewHub()
	channels := &consoleChannels{out: outbox.NewWriter(os.Stdout, config.Brand+": ")}
	flow := onboarding.NewFlow(flowConf, engine, onboarding.NewMemoryAccounts(), channels, hub, mailer, nil, gen, onboarding.WithTranscript(history))

	// stdin reads cannot be interrupted, so the pump is left running on exit
	go func() {
		defer hub.Close()
		if err := inbox.Pump(ctx, os.Stdin, hub, channels.idFor(participant), participant); err != nil {
			slog.Warn("Input pump stopped", "error", err)
		}
	}()

	account, err := flow.Run(ctx, participant, participant)
	if err != nil {
		fmt.Printf("registration ended: %v\n", err)
		return nil
	}
	fmt.Printf("registered %s <%s>\n", account.Username, account.Email)
	return nil
}

// consoleChannels prints every channel to the same writer.
type consoleChannels struct {
	out *outbox.Writer
}

type consoleChannel struct {
	*outbox.Writer
	id string
}

func (c *consoleChannel) ID() string { return c.id }

func (c *consoleChannels) idFor(participantID string) string {
	return "console-" + participantID
}

func (c *consoleChannels) Open(ctx context.Context, participantID string) (onboarding.Channel, error) {
	return &consoleChannel{Writer: c.out, id: c.idFor(participantID)}, nil
}

func (c *consoleChannels) Close(ctx context.Context, ch onboarding.Channel) error {
	fmt.Printf("-- channel %s closed --\n", ch.ID())
	return nil
}
