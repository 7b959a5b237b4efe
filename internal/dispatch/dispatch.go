// Package dispatch is the single top-level entry point (spec §4.7): it
// parses argv into a command, reads standard input for *-finish
// operations, executes the command inside a panic-catching barrier, and
// emits exactly one JSON envelope to standard output.
//
// Grounded on the teacher's main.go for the overall wiring shape
// (construct collaborators, hand them to a dispatching type) and on
// boulder's cmd/caa-log-checker terse, single-purpose CLI texture;
// argument parsing itself is modeled on gravitational-teleport's use of
// github.com/alecthomas/kingpin/v2 for tctl/tsh-style subcommand trees.
package dispatch

import (
	"fmt"
	"io"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/openwrt/webauthn-helper/internal/apperr"
	"github.com/openwrt/webauthn-helper/internal/codec"
	"github.com/openwrt/webauthn-helper/internal/config"
	"github.com/openwrt/webauthn-helper/internal/manage"
	"github.com/openwrt/webauthn-helper/internal/rlog"
	"github.com/openwrt/webauthn-helper/internal/rp"
	"github.com/openwrt/webauthn-helper/internal/store/challenge"
	"github.com/openwrt/webauthn-helper/internal/store/credential"
	"github.com/openwrt/webauthn-helper/internal/wire"
)

// Version is reported by --version. health-check reports the separate
// version constant in internal/manage.
const Version = "1.0.0"

// maxStdinBytes bounds standard-input ingestion on *-finish commands
// (spec §5); input beyond the limit is INVALID_INPUT, not silently
// truncated.
const maxStdinBytes = 1 << 20

// Run parses args, executes exactly one operation, writes the resulting
// envelope to stdout, and returns the process exit code. It never
// panics: any panic raised by a command handler is caught here and
// reported as INTERNAL_ERROR.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int) {
	env, code := execute(args, stdin, stderr)
	if err := wire.Emit(stdout, env); err != nil {
		fmt.Fprintf(stderr, "webauthn-helper: failed to write response: %v\n", err)
		return 1
	}
	return code
}

func execute(args []string, stdin io.Reader, stderr io.Writer) (env wire.Envelope, exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			rlog.Log.WithField("panic", r).Error("recovered panic")
			env = wire.Failure(apperr.CodeInternalError, fmt.Sprintf("%v", r))
			exitCode = 1
		}
	}()

	paths := config.Load()

	challenges, err := challenge.New(paths.ChallengeDir())
	if err != nil {
		return failureEnvelope(err), 1
	}
	credentials, err := credential.New(paths.CredentialsFile())
	if err != nil {
		return failureEnvelope(err), 1
	}
	engine := rp.New(challenges, credentials)
	manager := manage.New(credentials, challenges, paths.CredentialsFile())

	data, err := dispatchCommand(engine, manager, args, stdin, stderr)
	if err != nil {
		rlog.WithOp(commandNameFor(args)).WithError(err).Error("operation failed")
		return failureEnvelope(err), 1
	}
	return wire.Success(data), 0
}

func failureEnvelope(err error) wire.Envelope {
	return wire.Failure(apperr.Classify(err), apperr.Message(err))
}

// commandNameFor recovers a best-effort operation name for logging when
// dispatch itself fails before kingpin has matched a command.
func commandNameFor(args []string) string {
	if len(args) == 0 {
		return "unknown"
	}
	return args[0]
}

func dispatchCommand(engine *rp.Engine, manager *manage.Manager, args []string, stdin io.Reader, stderr io.Writer) (any, error) {
	app := kingpin.New("webauthn-helper", "WebAuthn relying-party helper for OpenWrt passkey management.")
	app.Version(Version)
	app.Terminate(nil)      // never os.Exit from inside kingpin; Run owns the exit code
	app.UsageWriter(stderr) // --help/--version/usage errors must never touch stdout (spec §4.7, §8 property 6)
	app.ErrorWriter(stderr)

	registerBegin := app.Command("register-begin", "Begin a passkey registration ceremony.")
	rbUsername := registerBegin.Flag("username", "account to register a passkey for").Required().String()
	rbRPID := registerBegin.Flag("rp-id", "relying party id (hostname or IP literal)").Required().String()
	rbUV := registerBegin.Flag("user-verification", "user verification policy").Default("preferred").Enum("required", "preferred", "discouraged")

	registerFinish := app.Command("register-finish", "Complete a passkey registration ceremony.")
	rfChallengeID := registerFinish.Flag("challenge-id", "challenge id returned by register-begin").Required().String()
	rfOrigin := registerFinish.Flag("origin", "origin the browser reported").Required().String()
	rfDeviceName := registerFinish.Flag("device-name", "human-readable label for the new passkey").Required().String()

	loginBegin := app.Command("login-begin", "Begin a passkey authentication ceremony.")
	lbUsername := loginBegin.Flag("username", "account to authenticate").Required().String()
	lbRPID := loginBegin.Flag("rp-id", "relying party id (hostname or IP literal)").Required().String()

	loginFinish := app.Command("login-finish", "Complete a passkey authentication ceremony.")
	lfChallengeID := loginFinish.Flag("challenge-id", "challenge id returned by login-begin").Required().String()
	lfOrigin := loginFinish.Flag("origin", "origin the browser reported").Required().String()

	manageCmd := app.Command("credential-manage", "Manage enrolled passkeys.")

	listCmd := manageCmd.Command("list", "List passkeys for a username.")
	listUsername := listCmd.Flag("username", "account to list passkeys for").Required().String()

	deleteCmd := manageCmd.Command("delete", "Delete a passkey by id.")
	deleteID := deleteCmd.Flag("id", "base64url credential id").Required().String()

	updateCmd := manageCmd.Command("update", "Rename a passkey.")
	updateID := updateCmd.Flag("id", "base64url credential id").Required().String()
	updateName := updateCmd.Flag("name", "new device name").Required().String()

	cleanupCmd := manageCmd.Command("cleanup", "Remove expired challenge files.")

	healthCmd := app.Command("health-check", "Report storage health.")

	cmd, err := app.Parse(args)
	if err != nil {
		return nil, apperr.NewInvalidInput("%v", err)
	}

	switch cmd {
	case registerBegin.FullCommand():
		challengeID, options, err := engine.RegisterBegin(*rbUsername, *rbRPID, protocol.UserVerificationRequirement(*rbUV))
		if err != nil {
			return nil, err
		}
		return wire.RegisterBeginData{CredentialCreation: options, ChallengeID: challengeID}, nil

	case registerFinish.FullCommand():
		body, err := readStdin(stdin)
		if err != nil {
			return nil, err
		}
		rec, err := engine.RegisterFinish(*rfChallengeID, *rfOrigin, *rfDeviceName, body)
		if err != nil {
			return nil, err
		}
		return wire.RegisterFinishData{
			CredentialID: codec.EncodeBytes(rec.CredentialID),
			AAGUID:       rec.AAGUID.String(),
			DeviceName:   rec.DeviceName,
			CreatedAt:    codec.FormatTime(rec.CreatedAt),
		}, nil

	case loginBegin.FullCommand():
		challengeID, options, err := engine.LoginBegin(*lbUsername, *lbRPID)
		if err != nil {
			return nil, err
		}
		return wire.LoginBeginData{CredentialAssertion: options, ChallengeID: challengeID}, nil

	case loginFinish.FullCommand():
		body, err := readStdin(stdin)
		if err != nil {
			return nil, err
		}
		rec, err := engine.LoginFinish(*lfChallengeID, *lfOrigin, body)
		if err != nil {
			return nil, err
		}
		return wire.LoginFinishData{
			Username:     rec.Username,
			CredentialID: codec.EncodeBytes(rec.CredentialID),
			UserVerified: rec.UserVerified,
			SignCount:    rec.SignCounter,
		}, nil

	case listCmd.FullCommand():
		return manager.List(*listUsername)

	case deleteCmd.FullCommand():
		id, err := decodeID(*deleteID)
		if err != nil {
			return nil, err
		}
		return manager.Delete(id)

	case updateCmd.FullCommand():
		id, err := decodeID(*updateID)
		if err != nil {
			return nil, err
		}
		return manager.Update(id, *updateName)

	case cleanupCmd.FullCommand():
		return manager.Cleanup()

	case healthCmd.FullCommand():
		return manager.HealthCheck(), nil

	default:
		return nil, apperr.NewInvalidInput("no command given")
	}
}

func decodeID(s string) ([]byte, error) {
	b, err := codec.DecodeBytes(s)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// readStdin ingests at most maxStdinBytes+1 bytes so oversize input is
// detected without buffering an unbounded amount of attacker-controlled
// data (spec §5, §8 scenario S6).
func readStdin(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, maxStdinBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, apperr.NewIOError(err, "reading standard input")
	}
	if len(data) > maxStdinBytes {
		return nil, apperr.NewInvalidInput("standard input exceeds %d bytes", maxStdinBytes)
	}
	return data, nil
}
