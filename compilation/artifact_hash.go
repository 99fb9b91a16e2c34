package compilation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crytic/warden/compilation/types"
	"github.com/crytic/warden/logging"
	"github.com/crytic/warden/logging/colors"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// ArtifactHashCacheFileName is the name of the file used to store the artifact hash.
const ArtifactHashCacheFileName = ".warden-artifact-hash"

// ArtifactHashCache stores the hash of compilation artifacts along with metadata.
type ArtifactHashCache struct {
	// Hash is the SHA-256 hash of the compiled bytecode.
	Hash string `json:"hash"`
	// Timestamp is when the hash was computed.
	Timestamp time.Time `json:"timestamp"`
}

// ContractHash computes a SHA-256 hash identifying a single compiled contract. Contract metadata is excluded so that
// recompiling unchanged code with a different metadata hash yields the same key.
func ContractHash(name string, contract *types.CompiledContract) string {
	hasher := sha256.New()
	hasher.Write([]byte(name))
	hasher.Write(types.RemoveContractMetadata(contract.InitBytecode))
	hasher.Write(types.RemoveContractMetadata(contract.RuntimeBytecode))
	return hex.EncodeToString(hasher.Sum(nil))
}

// ComputeArtifactHash computes a SHA-256 hash of all compiled contract bytecode from the provided compilations. The
// hash is computed deterministically by sorting contracts by name before hashing.
func ComputeArtifactHash(compilations []types.Compilation) string {
	type namedContract struct {
		name     string
		contract types.CompiledContract
	}
	var contracts []namedContract
	for _, compilation := range compilations {
		for _, source := range compilation.SourcePathToArtifact {
			for name, contract := range source.Contracts {
				contracts = append(contracts, namedContract{name: name, contract: contract})
			}
		}
	}

	// Sort by contract name for deterministic hashing
	slices.SortFunc(contracts, func(a, b namedContract) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		default:
			return 0
		}
	})

	hasher := sha256.New()
	for _, c := range contracts {
		hasher.Write([]byte(ContractHash(c.name, &c.contract)))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// LoadArtifactHashCache loads the artifact hash cache from the specified directory.
// Returns nil if the cache file does not exist or cannot be parsed.
func LoadArtifactHashCache(directory string) *ArtifactHashCache {
	data, err := os.ReadFile(filepath.Join(directory, ArtifactHashCacheFileName))
	if err != nil {
		return nil
	}

	var cache ArtifactHashCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	return &cache
}

// SaveArtifactHashCache saves the artifact hash cache to the specified directory.
func SaveArtifactHashCache(directory string, cache *ArtifactHashCache) error {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal cache")
	}

	if err := os.WriteFile(filepath.Join(directory, ArtifactHashCacheFileName), data, 0644); err != nil {
		return errors.Wrap(err, "failed to write cache file")
	}
	return nil
}

// NotifyArtifactHashStatus compares the current artifact hash with the one cached in cacheDirectory and tells the
// user whether persisted solver results from a previous scan apply. The cache is then updated with the new hash.
func NotifyArtifactHashStatus(compilations []types.Compilation, cacheDirectory string, logger *logging.Logger) {
	if len(compilations) == 0 || cacheDirectory == "" {
		return
	}

	currentHash := ComputeArtifactHash(compilations)
	cachedHash := LoadArtifactHashCache(cacheDirectory)

	if cachedHash == nil || cachedHash.Hash != currentHash {
		logger.Info(
			colors.Bold, "artifacts: ", colors.Reset,
			"scanning a ", colors.GreenBold, "new", colors.Reset, " set of build artifacts",
		)
	} else {
		logger.Info(
			colors.Bold, "artifacts: ", colors.Reset,
			"scanning the ", colors.YellowBold, "same", colors.Reset,
			" build artifacts as previously (last run: ", formatDuration(time.Since(cachedHash.Timestamp)),
			" ago), persisted solver results will be reused",
		)
	}

	newCache := &ArtifactHashCache{
		Hash:      currentHash,
		Timestamp: time.Now(),
	}
	if err := SaveArtifactHashCache(cacheDirectory, newCache); err != nil {
		logger.Warn("Failed to save artifact hash cache", err)
	}
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}
