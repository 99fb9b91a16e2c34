package cmd

// DefaultProjectConfigFilename describes the default config filename for a given project folder.
const DefaultProjectConfigFilename = "warden.json"

// DefaultCompilationPlatform describes the default compilation platform to use if one is not provided
const DefaultCompilationPlatform = "solc"

// TargetFlagDescription describes the --target flag shared by the commands that compile a project
const TargetFlagDescription = "target file or directory to compile (the contract source for solc, the init bytecode file for bytecode)"
