package deploy

import (
	"fmt"

	"ecrdeploy/internal/control"
	"ecrdeploy/internal/registry"
)

// ContainerPort is the port the application listens on inside its container.
const ContainerPort = 5000

// SetupCommands returns the ordered commands that install docker and nginx,
// log in to the registry and start the container. The registry password is
// passed on stdin so it never appears in a command line or a log.
func SetupCommands(req Request, cred *registry.Credential) []control.Command {
	image := control.Quote(req.Image)
	return []control.Command{
		{Name: "update packages", Line: "sudo yum update -y"},
		{Name: "install docker and nginx", Line: "sudo yum install -y docker nginx"},
		{Name: "start docker", Line: "sudo service docker start"},
		{Name: "grant docker group", Line: fmt.Sprintf("sudo usermod -a -G docker %s", control.Quote(req.User))},
		{
			Name:     "registry login",
			Line:     fmt.Sprintf("sudo docker login --username %s --password-stdin %s", control.Quote(cred.Username), control.Quote(cred.Endpoint)),
			Stdin:    cred.Password,
			Critical: true,
		},
		{Name: "pull image", Line: "sudo docker pull " + image, Critical: true},
		{
			Name:     "run container",
			Line:     fmt.Sprintf("sudo docker run -d --name %s -p %d:%d %s", control.Quote(req.ContainerName), req.ExposedPort, ContainerPort, image),
			Critical: true,
		},
	}
}

// ProxyCommands validates the written config and restarts nginx.
func ProxyCommands() []control.Command {
	return []control.Command{
		{Name: "check nginx config", Line: "sudo nginx -t", Critical: true},
		{Name: "restart nginx", Line: "sudo systemctl restart nginx", Critical: true},
	}
}
