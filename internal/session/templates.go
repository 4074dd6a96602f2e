package session

// Starter file sets preloaded when a project is created from a template.

type templateFile struct {
	name    string
	content string
}

var projectTemplates = map[string][]templateFile{
	"web": {
		{name: "index.html", content: `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>New Project</title>
  <link rel="stylesheet" href="style.css">
</head>
<body>
  <h1>Hello, world!</h1>
  <script src="script.js"></script>
</body>
</html>
`},
		{name: "style.css", content: `body {
  font-family: sans-serif;
  margin: 2rem;
}
`},
		{name: "script.js", content: `console.log("Hello, world!");
`},
	},
	"node": {
		{name: "index.js", content: `console.log("Hello, world!");
`},
		{name: "package.json", content: `{
  "name": "new-project",
  "version": "1.0.0",
  "main": "index.js"
}
`},
	},
	"python": {
		{name: "main.py", content: `def main():
    print("Hello, world!")


if __name__ == "__main__":
    main()
`},
		{name: "requirements.txt", content: ""},
	},
}

// templateFiles returns the starter files for a template name, or nil for
// unknown templates (project creation still succeeds, just empty).
func templateFiles(name string) []templateFile {
	return projectTemplates[name]
}
