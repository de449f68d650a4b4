package knowledge

import "mcpforge/internal/forge"

const referenceServersRepo = "https://github.com/modelcontextprotocol/servers.git"

// SeedDescriptors returns the built-in reference servers.
func SeedDescriptors() []forge.Descriptor {
	return []forge.Descriptor{
		{
			Name:                 "mcp-filesystem",
			Description:          "Read, write and list files and directories on the local filesystem.",
			InstallationType:     forge.InstallInterpreted,
			RepositoryURL:        referenceServersRepo,
			DocumentationSummary: "Tools fs/readFile, fs/writeFile and fs/listDirectory. Python project under src/filesystem with pyproject.toml; entry point src/filesystem/server.py.",
			Examples: []forge.Example{
				{UserQuery: "I need to read and write files in a folder"},
			},
		},
		{
			Name:                 "mcp-git",
			Description:          "Wrap the git command line: clone repositories, check status, inspect commits and logs.",
			InstallationType:     forge.InstallInterpreted,
			RepositoryURL:        referenceServersRepo,
			DocumentationSummary: "Tools git/clone, git/status and git/log. Needs git installed in the image. Python project under src/git; entry point src/git/server.py.",
			Examples: []forge.Example{
				{UserQuery: "clone a repository and show recent commits"},
			},
		},
		{
			Name:                 "mcp-memory",
			Description:          "Persistent memory and knowledge storage that survives across sessions.",
			InstallationType:     forge.InstallInterpreted,
			RepositoryURL:        referenceServersRepo,
			DocumentationSummary: "Store and recall facts as a knowledge graph. Python project under src/memory; entry point src/memory/server.py.",
			Examples: []forge.Example{
				{UserQuery: "remember things between conversations"},
			},
		},
		{
			Name:                 "mcp-sqlite",
			Description:          "Query, create and manage SQLite databases.",
			InstallationType:     forge.InstallInterpreted,
			RepositoryURL:        referenceServersRepo,
			DocumentationSummary: "Run SQL queries and manage tables in a SQLite database file. Python project under src/sqlite; entry point src/sqlite/server.py.",
			Examples: []forge.Example{
				{UserQuery: "run sql queries against a local database"},
			},
		},
	}
}
