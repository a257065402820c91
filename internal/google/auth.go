package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/firestore/v1"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "credentials.json"
	// DefaultTokenFile is where the auth command stores the user token.
	DefaultTokenFile = "token-firestore.json"
)

// Credentials selects how the Firestore client authenticates. The first usable source
// wins: an emulator endpoint, a saved user token, a service account file, then
// application default credentials.
type Credentials struct {
	Endpoint        string
	TokenFile       string
	ClientID        string
	ClientSecret    string
	CredentialsFile string
}

// ClientOptions turns c into options for firestore.NewService.
func ClientOptions(ctx context.Context, logger *slog.Logger, c Credentials) ([]option.ClientOption, error) {
	if c.Endpoint != "" {
		logger.Info("Using Firestore endpoint without authentication", "endpoint", c.Endpoint)
		return []option.ClientOption{option.WithEndpoint(c.Endpoint), option.WithoutAuthentication()}, nil
	}

	if c.TokenFile != "" {
		token, err := tokenFromFile(c.TokenFile)
		switch {
		case err == nil:
			config, err := getOAuthConfig(c.ClientID, c.ClientSecret)
			if err != nil {
				return nil, fmt.Errorf("failed to get OAuth config: %w", err)
			}
			logger.Info("Using saved user token", "file", c.TokenFile)
			return []option.ClientOption{option.WithTokenSource(config.TokenSource(ctx, token))}, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("could not load token %s: %w", c.TokenFile, err)
		}
	}

	if c.CredentialsFile != "" {
		b, err := os.ReadFile(c.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, b, firestore.DatastoreScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse credentials file: %w", err)
		}
		logger.Info("Using service account credentials", "file", c.CredentialsFile)
		return []option.ClientOption{option.WithTokenSource(creds.TokenSource)}, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, firestore.DatastoreScope)
	if err != nil {
		return nil, fmt.Errorf("no Firestore credentials found, run the 'auth' command or set GOOGLE_APPLICATION_CREDENTIALS: %w", err)
	}
	logger.Info("Using application default credentials")
	return []option.ClientOption{option.WithTokenSource(creds.TokenSource)}, nil
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig prefers explicit client credentials over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{firestore.DatastoreScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, firestore.DatastoreScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	return config, nil
}

// TokenFromWeb exchanges an authorization code for a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path readable only by the owner.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(token); err != nil {
		f.Close()
		return fmt.Errorf("unable to write token file: %w", err)
	}
	return f.Close()
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
