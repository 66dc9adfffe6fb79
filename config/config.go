package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	ethcmn "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zpoken/zkv-attestation-relay/types"
)

const (
	// attestation chain
	ZkvRPCURLKey     = "ZKV_RPC_URL"
	ZkvSeedPhraseKey = "ZKV_SEED_PHRASE"

	// consumer chain
	EthRPCURLKey             = "ETH_RPC_URL"
	EthSecretKeyKey          = "ETH_SECRET_KEY"
	EthAttestationAddressKey = "ETH_ZKVERIFY_CONTRACT_ADDRESS"
	EthAppAddressKey         = "ETH_APP_CONTRACT_ADDRESS"

	// tunables
	FinalizationTimeoutKey = "RELAY_FINALIZATION_TIMEOUT"
	InclusionTimeoutKey    = "RELAY_INCLUSION_TIMEOUT"
	BridgeTimeoutKey       = "RELAY_BRIDGE_TIMEOUT"
	SessionTimeoutKey      = "RELAY_SESSION_TIMEOUT"
	RetryAttemptsKey       = "RELAY_RETRY_ATTEMPTS"
	RetryDelayKey          = "RELAY_RETRY_DELAY"
	RetryMaxDelayKey       = "RELAY_RETRY_MAX_DELAY"
	VerifyPostedRootKey    = "RELAY_VERIFY_POSTED_ROOT"
	WaitPublishedKey       = "RELAY_WAIT_PUBLISHED_ATTESTATION"
)

var requiredKeys = []string{
	ZkvRPCURLKey,
	ZkvSeedPhraseKey,
	EthRPCURLKey,
	EthSecretKeyKey,
	EthAttestationAddressKey,
	EthAppAddressKey,
}

// DotEnvFiles are loaded, when present, before the environment is read.
// Variables already set in the process take precedence.
var DotEnvFiles = []string{".env", ".env.secrets"}

type AttestationConfig struct {
	RPCURL     string
	SeedPhrase string
}

type ConsumerConfig struct {
	RPCURL             string
	PrivateKey         *ecdsa.PrivateKey
	AttestationAddress ethcmn.Address
	AppAddress         ethcmn.Address
}

// Account is the address transactions are signed from.
func (c ConsumerConfig) Account() ethcmn.Address {
	return ethcrypto.PubkeyToAddress(c.PrivateKey.PublicKey)
}

// Timeouts bound each suspension point of a session. Zero means wait forever.
type Timeouts struct {
	Finalization time.Duration
	Inclusion    time.Duration
	Bridge       time.Duration
	Session      time.Duration
}

type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

type Config struct {
	Attestation AttestationConfig
	Consumer    ConsumerConfig
	Timeouts    Timeouts
	Retry       RetryConfig

	// VerifyPostedRoot makes the bridge recompute the attestation root from
	// the inclusion proof and refuse to act when it differs from the root
	// posted on the consumer chain.
	VerifyPostedRoot bool

	// WaitForPublishedAttestation makes submission wait until the attestation
	// containing the proof is published, not only finalized.
	WaitForPublishedAttestation bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 5,
		Delay:    time.Second,
		MaxDelay: 30 * time.Second,
	}
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Finalization: 10 * time.Minute,
		Inclusion:    2 * time.Minute,
		Bridge:       30 * time.Minute,
	}
}

func setDefaults(v *viper.Viper) {
	retry := DefaultRetryConfig()
	timeouts := DefaultTimeouts()
	v.SetDefault(FinalizationTimeoutKey, timeouts.Finalization)
	v.SetDefault(InclusionTimeoutKey, timeouts.Inclusion)
	v.SetDefault(BridgeTimeoutKey, timeouts.Bridge)
	v.SetDefault(SessionTimeoutKey, timeouts.Session)
	v.SetDefault(RetryAttemptsKey, retry.Attempts)
	v.SetDefault(RetryDelayKey, retry.Delay)
	v.SetDefault(RetryMaxDelayKey, retry.MaxDelay)
	v.SetDefault(VerifyPostedRootKey, false)
	v.SetDefault(WaitPublishedKey, true)
}

// LoadDotEnv loads the dotenv files that exist, leaving already-set variables
// untouched.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// NewViper returns a viper instance reading the process environment, with
// flags bound when given. Flags use the lower-case dashed form of the key,
// e.g. --relay-bridge-timeout.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if flags == nil {
		return v, nil
	}
	for _, key := range v.AllKeys() {
		flag := flags.Lookup(FlagName(key))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// FlagName is the flag bound to an environment key.
func FlagName(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

// LoadAttestation reads only the attestation chain settings, for commands
// that never touch the consumer chain.
func LoadAttestation(v *viper.Viper) (AttestationConfig, error) {
	if err := requireKeys(v, ZkvRPCURLKey, ZkvSeedPhraseKey); err != nil {
		return AttestationConfig{}, err
	}
	return AttestationConfig{
		RPCURL:     v.GetString(ZkvRPCURLKey),
		SeedPhrase: v.GetString(ZkvSeedPhraseKey),
	}, nil
}

func requireKeys(v *viper.Viper, keys ...string) error {
	var missing []string
	for _, key := range keys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Load builds the relay configuration. Every required value must be present;
// absence is a startup failure naming all missing keys.
func Load(v *viper.Viper) (Config, error) {
	if err := requireKeys(v, requiredKeys...); err != nil {
		return Config{}, err
	}

	privateKey, err := ethcrypto.HexToECDSA(strings.TrimPrefix(v.GetString(EthSecretKeyKey), "0x"))
	if err != nil {
		return Config{}, errorsmod.Wrapf(types.ErrInvalidConfig, "failed to hex-decode %s: %v", EthSecretKeyKey, err)
	}
	attestationAddress, err := parseAddress(v, EthAttestationAddressKey)
	if err != nil {
		return Config{}, err
	}
	appAddress, err := parseAddress(v, EthAppAddressKey)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Attestation: AttestationConfig{
			RPCURL:     v.GetString(ZkvRPCURLKey),
			SeedPhrase: v.GetString(ZkvSeedPhraseKey),
		},
		Consumer: ConsumerConfig{
			RPCURL:             v.GetString(EthRPCURLKey),
			PrivateKey:         privateKey,
			AttestationAddress: attestationAddress,
			AppAddress:         appAddress,
		},
		Timeouts: Timeouts{
			Finalization: v.GetDuration(FinalizationTimeoutKey),
			Inclusion:    v.GetDuration(InclusionTimeoutKey),
			Bridge:       v.GetDuration(BridgeTimeoutKey),
			Session:      v.GetDuration(SessionTimeoutKey),
		},
		Retry: RetryConfig{
			Attempts: v.GetUint(RetryAttemptsKey),
			Delay:    v.GetDuration(RetryDelayKey),
			MaxDelay: v.GetDuration(RetryMaxDelayKey),
		},
		VerifyPostedRoot:            v.GetBool(VerifyPostedRootKey),
		WaitForPublishedAttestation: v.GetBool(WaitPublishedKey),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Consumer.PrivateKey == nil {
		return errorsmod.Wrap(types.ErrInvalidConfig, "consumer signing key required")
	}
	if c.Retry.Attempts == 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "retry attempts must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		FinalizationTimeoutKey: c.Timeouts.Finalization,
		InclusionTimeoutKey:    c.Timeouts.Inclusion,
		BridgeTimeoutKey:       c.Timeouts.Bridge,
		SessionTimeoutKey:      c.Timeouts.Session,
	} {
		if d < 0 {
			return errorsmod.Wrapf(types.ErrInvalidConfig, "%s must not be negative", name)
		}
	}
	return nil
}

func parseAddress(v *viper.Viper, key string) (ethcmn.Address, error) {
	raw := v.GetString(key)
	if !ethcmn.IsHexAddress(raw) {
		return ethcmn.Address{}, errorsmod.Wrapf(types.ErrInvalidConfig, "%s is not a valid address: %q", key, raw)
	}
	return ethcmn.HexToAddress(raw), nil
}
