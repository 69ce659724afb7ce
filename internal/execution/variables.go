package execution

import (
	"encoding/json"
	"fmt"
)

// Coordination variables are published as two files per host role: a JSON
// document and a sourceable shell file.
func variableFiles(dir string, host Host) (jsonPath, envPath string) {
	return fmt.Sprintf("%s/%s.json", dir, host), fmt.Sprintf("%s/%s.env", dir, host)
}

func renderVariables(vars map[string]string) (jsonData []byte, envData []byte, err error) {
	jsonData, err = json.MarshalIndent(vars, "", "    ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode variables: %w", err)
	}
	env := EnvFromMap(vars)
	var out []byte
	for _, v := range env {
		out = append(out, []byte(Env{v}.Exports()+"\n")...)
	}
	return jsonData, out, nil
}
