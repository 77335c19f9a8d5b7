package steps

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/internal/template"
)

// sqlPrefix marks absorbed SQL sub-deployment log lines in the parent
const sqlPrefix = "[SQL] "

// SQLHandler applies SQL fix files with psql against a database resolved
// from the inventory. The password is handed to psql through PGPASSWORD,
// never on the command line.
type SQLHandler struct {
	deps       Deps
	decoder    *template.SpecDecoder
	subRecords *SubRecords
}

// NewSQLHandler creates the sql_deployment step handler
func NewSQLHandler(deps Deps, decoder *template.SpecDecoder, subRecords *SubRecords) *SQLHandler {
	return &SQLHandler{deps: deps, decoder: decoder, subRecords: subRecords}
}

// Kind returns the step kind this handler executes
func (h *SQLHandler) Kind() interfaces.StepKind {
	return interfaces.StepKindSQLDeployment
}

// Execute applies every SQL file in order, failing fast on the first error
func (h *SQLHandler) Execute(ctx context.Context, run interfaces.StepRun) error {
	var spec template.SQLDeploymentSpec
	if err := h.decoder.Decode(run.Step, &spec); err != nil {
		run.Sink.Append("Missing required SQL deployment parameters")
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	password := h.decodePassword(spec.DBPassword, run.Sink)

	dbInfo, ok := h.deps.Inventory.ResolveDBConnection(spec.DBConnection)
	if !ok {
		run.Sink.Append(fmt.Sprintf("Database connection %s not found", spec.DBConnection))
		return fmt.Errorf("%w: db_connection %s", ErrLookupMiss, spec.DBConnection)
	}

	ftNumber := spec.FTNumber
	if ftNumber == "" {
		ftNumber = run.FTNumber
	}

	for _, sqlFile := range spec.Files {
		sqlPath := h.sourcePath(ftNumber, sqlFile)
		if _, err := os.Stat(sqlPath); err != nil {
			run.Sink.Append(fmt.Sprintf("SQL file %s not found", sqlPath))
			return fmt.Errorf("%w: %s", ErrSourceMissing, sqlPath)
		}

		if err := h.applyFile(ctx, run, dbInfo, spec.DBUser, password, sqlPath); err != nil {
			return err
		}

		run.Sink.Append(fmt.Sprintf("SQL file %s executed successfully", sqlFile))
	}

	return nil
}

// applyFile runs one psql invocation under a sub-record and absorbs its log
func (h *SQLHandler) applyFile(ctx context.Context, run interfaces.StepRun, dbInfo interfaces.DBConnection, dbUser, password, sqlPath string) error {
	subID, subSink, err := h.subRecords.Begin(interfaces.RecordKindSQL, run.DeploymentID, run.FTNumber)
	if err != nil {
		run.Sink.Append(fmt.Sprintf("SQL deployment failed: %v", err))
		return err
	}

	cmd := Command{
		Name: "psql",
		Args: []string{
			"-h", dbInfo.Hostname,
			"-p", dbInfo.Port,
			"-U", dbUser,
			"-d", dbInfo.DBName,
			"-v", "ON_ERROR_STOP=1",
			"-f", sqlPath,
		},
		Env:     []string{"PGPASSWORD=" + password},
		Timeout: h.deps.Config.StepTimeout,
	}
	runErr := h.deps.Runner.Run(ctx, cmd, subSink)

	// A failed absorb never masks the command failure
	if err := h.subRecords.Absorb(subID, run.DeploymentID, sqlPrefix); err != nil {
		run.Sink.Append(fmt.Sprintf("SQL deployment failed: %v", err))
		if runErr == nil {
			return err
		}
	}

	return runErr
}

// decodePassword decodes the base64 password from the template. A value
// that is not valid base64 is used as-is; older templates carried the
// password in the clear.
func (h *SQLHandler) decodePassword(encoded string, sink interfaces.LogSink) string {
	if encoded == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		sink.Append("Database password is not base64 encoded, using raw value")
		return encoded
	}
	return string(decoded)
}

// sourcePath resolves a SQL file name under the fix files root
func (h *SQLHandler) sourcePath(ftNumber, fileName string) string {
	if ftNumber != "" {
		return filepath.Join(h.deps.Config.FixFilesDir, ftNumber, fileName)
	}
	return filepath.Join(h.deps.Config.FixFilesDir, fileName)
}
