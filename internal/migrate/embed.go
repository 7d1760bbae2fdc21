package migrate

import "embed"

//go:embed sql seeds
var embedded embed.FS
