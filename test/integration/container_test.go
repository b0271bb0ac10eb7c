package integration

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresDB    = "medibook_it"
	postgresUser  = "medibook"
	postgresPass  = "medibook"
)

// startPostgresContainer runs a throwaway Postgres through the docker CLI,
// letting docker pick the host port, and waits until it accepts queries.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	out, err := docker(ctx, "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_DB="+postgresDB,
		"-e", "POSTGRES_USER="+postgresUser,
		"-e", "POSTGRES_PASSWORD="+postgresPass,
		postgresImage,
	)
	if err != nil {
		return "", nil, err
	}
	id := out
	stop := func() { _, _ = docker(context.Background(), "rm", "-f", id) }

	// "127.0.0.1:49153"
	hostPort, err := docker(ctx, "port", id, "5432/tcp")
	if err != nil {
		stop()
		return "", nil, err
	}
	hostPort = strings.SplitN(hostPort, "\n", 2)[0]

	connStr := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", postgresUser, postgresPass, hostPort, postgresDB)
	if err := awaitPostgres(ctx, connStr, 30*time.Second); err != nil {
		stop()
		return "", nil, err
	}
	return connStr, stop, nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// awaitPostgres polls until a single connection can run a query. The
// entrypoint restarts the server once after init, so one successful dial is
// not enough on its own.
func awaitPostgres(ctx context.Context, connStr string, limit time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	for ok := 0; ok < 2; {
		conn, err := pgx.Connect(ctx, connStr)
		if err == nil {
			_, err = conn.Exec(ctx, "SELECT 1")
			conn.Close(context.Background())
		}
		if err == nil {
			ok++
		} else {
			ok, lastErr = 0, err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %s: %v", limit, lastErr)
		case <-tick.C:
		}
	}
	return nil
}
